package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moodsense/moodsense/analysis"
	"github.com/moodsense/moodsense/analysis/cache"
	"github.com/moodsense/moodsense/analysis/classifier"
	"github.com/moodsense/moodsense/analysis/confidence"
	"github.com/moodsense/moodsense/analysis/configloader"
	"github.com/moodsense/moodsense/analysis/dedup"
	"github.com/moodsense/moodsense/analysis/escalation"
	"github.com/moodsense/moodsense/analysis/gating"
	"github.com/moodsense/moodsense/analysis/metrics"
	"github.com/moodsense/moodsense/analysis/pattern"
	"github.com/moodsense/moodsense/analysis/stats"
	"github.com/moodsense/moodsense/internal/profile"
	"github.com/moodsense/moodsense/internal/version"
	"github.com/moodsense/moodsense/server"
	"github.com/moodsense/moodsense/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "moodsense",
	Short: "An adaptive journaling analysis service. Classifies entries locally and escalates only the ambiguous ones.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Systemd deployments carry their environment in the unit file.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, layer, err := buildServer(instanceProfile)
		if err != nil {
			slog.Error("failed to build server", "error", err)
			os.Exit(1)
		}
		layer.StartSweeper(ctx, cache.DefaultSweepInterval)

		c := make(chan os.Signal, 1)
		// SIGTERM is the graceful shutdown signal used by systemd and Kubernetes.
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			cancel()
		}

		<-ctx.Done()
	},
}

// buildServer assembles the full pipeline from the profile.
func buildServer(p *profile.Profile) (*server.Server, *cache.Layer, error) {
	logger := slog.Default()

	specs := pattern.DefaultSpecs()
	ttlOverrides := map[string]time.Duration{}
	eventMap := cache.DefaultEventMap()
	if p.ConfigDir != "" {
		loader := configloader.NewLoader(p.ConfigDir)
		loaded, err := loader.LoadPatternDir("patterns")
		if err != nil {
			return nil, nil, fmt.Errorf("load pattern tables: %w", err)
		}
		if len(loaded) > 0 {
			specs = loaded
		}
		cacheFile, err := loader.LoadCache("cache.yaml")
		if err != nil {
			return nil, nil, fmt.Errorf("load cache tuning: %w", err)
		}
		for name, seconds := range cacheFile.TTLOverrides {
			ttlOverrides[name] = time.Duration(seconds) * time.Second
		}
		if len(cacheFile.Events) > 0 {
			eventMap = cacheFile.Events
		}
	}

	engine, err := pattern.NewEngine(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("compile pattern tables: %w", err)
	}

	kv, err := db.NewKV(p.Driver, p.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	calc := confidence.NewCalculator()
	cls := classifier.New(engine, calc, classifier.Config{Logger: logger})
	dd := dedup.New(time.Duration(p.DedupWindowSeconds) * time.Second)
	budget := gating.NewTokenBudget(p.DailyTokenBudget)
	limiter := gating.NewUserRateLimiter(p.EscalationPerUser, p.EscalationWindow)
	gate := gating.NewEngine(gating.Config{
		Enabled:       p.IsEscalationEnabled(),
		Low:           p.AmbiguityLow,
		High:          p.AmbiguityHigh,
		MinTextLength: p.MinTextLength,
	}, budget, limiter, calc, logger)

	var escalator escalation.Client
	if p.IsEscalationEnabled() {
		escalator, err = escalation.New(escalation.Config{
			APIKey:  p.EscalationAPIKey,
			BaseURL: p.EscalationBaseURL,
			Model:   p.EscalationModel,
			Timeout: time.Duration(p.EscalationTimeout) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create escalation client: %w", err)
		}
	}

	layer := cache.NewLayer(cache.Config{
		TTLOverrides: ttlOverrides,
		EventMap:     eventMap,
		KV:           kv,
		Logger:       logger,
		OnEvict:      exporter.RecordCacheEviction,
	})

	svc := analysis.NewService(analysis.Config{
		Classifier:        cls,
		Dedup:             dd,
		Gate:              gate,
		Budget:            budget,
		Escalator:         escalator,
		Cache:             layer,
		Stats:             stats.New(),
		Metrics:           exporter,
		Logger:            logger,
		RespectQuietHours: p.RespectQuietHours,
		QuietStart:        p.QuietHoursStart,
		QuietEnd:          p.QuietHoursEnd,
	})

	return server.NewServer(p, svc, engine, exporter, logger), layer, nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("moodsense")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("MoodSense %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.Addr == "" {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
	if !p.IsEscalationEnabled() {
		fmt.Println("Escalation disabled: no API key configured, heuristics only")
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
