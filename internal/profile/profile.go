package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Escalation model configuration (OpenAI-compatible protocol)
	EscalationAPIKey  string // API key; escalation is disabled when empty
	EscalationBaseURL string // optional, provider default when empty
	EscalationModel   string // gpt-4o-mini, deepseek-chat, etc.
	EscalationTimeout int    // request timeout in seconds (default: 8)

	// Escalation gating knobs
	AmbiguityLow       float64 // below this the heuristic abstains outright
	AmbiguityHigh      float64 // above this the heuristic is trusted
	MinTextLength      int     // shorter entries never escalate
	DailyTokenBudget   int64   // global daily escalation budget
	EscalationPerUser  int     // per-user escalations per window
	EscalationWindow   time.Duration
	RespectQuietHours  bool
	QuietHoursStart    int // hour of day, local time
	QuietHoursEnd      int
	DedupWindowSeconds int

	// Cache TTL overrides in seconds, keyed by bucket name.
	CacheTTLOverrides map[string]int

	// Server and storage
	Mode      string
	Addr      string
	Port      int
	Driver    string
	DSN       string
	Data      string
	Version   string
	ConfigDir string // directory holding pattern YAML files, empty for built-ins
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEscalationEnabled returns true if an escalation API key is configured.
func (p *Profile) IsEscalationEnabled() bool {
	return p.EscalationAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EscalationAPIKey = getEnvOrDefault("MOODSENSE_ESCALATION_API_KEY", "")
	p.EscalationBaseURL = getEnvOrDefault("MOODSENSE_ESCALATION_BASE_URL", "")
	p.EscalationModel = getEnvOrDefault("MOODSENSE_ESCALATION_MODEL", "gpt-4o-mini")
	p.EscalationTimeout = getEnvOrDefaultInt("MOODSENSE_ESCALATION_TIMEOUT_SECONDS", 8)

	p.AmbiguityLow = getEnvOrDefaultFloat("MOODSENSE_AMBIGUITY_LOW", 0.4)
	p.AmbiguityHigh = getEnvOrDefaultFloat("MOODSENSE_AMBIGUITY_HIGH", 0.75)
	p.MinTextLength = getEnvOrDefaultInt("MOODSENSE_MIN_TEXT_LENGTH", 20)
	p.DailyTokenBudget = int64(getEnvOrDefaultInt("MOODSENSE_DAILY_TOKEN_BUDGET", 100000))
	p.EscalationPerUser = getEnvOrDefaultInt("MOODSENSE_ESCALATION_PER_USER", 10)
	p.EscalationWindow = time.Duration(getEnvOrDefaultInt("MOODSENSE_ESCALATION_WINDOW_SECONDS", 3600)) * time.Second
	p.RespectQuietHours = getEnvOrDefault("MOODSENSE_RESPECT_QUIET_HOURS", "false") == "true"
	p.QuietHoursStart = getEnvOrDefaultInt("MOODSENSE_QUIET_HOURS_START", 22)
	p.QuietHoursEnd = getEnvOrDefaultInt("MOODSENSE_QUIET_HOURS_END", 8)
	p.DedupWindowSeconds = getEnvOrDefaultInt("MOODSENSE_DEDUP_WINDOW_SECONDS", 300)

	p.ConfigDir = getEnvOrDefault("MOODSENSE_CONFIG_DIR", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.AmbiguityLow < 0 || p.AmbiguityHigh > 1 || p.AmbiguityLow >= p.AmbiguityHigh {
		return errors.Errorf("invalid ambiguity band [%v, %v]", p.AmbiguityLow, p.AmbiguityHigh)
	}
	if p.DailyTokenBudget < 0 {
		return errors.Errorf("negative daily token budget %d", p.DailyTokenBudget)
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/moodsense"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("moodsense_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	return nil
}
