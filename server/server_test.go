package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodsense/moodsense/analysis"
	"github.com/moodsense/moodsense/analysis/cache"
	"github.com/moodsense/moodsense/analysis/classifier"
	"github.com/moodsense/moodsense/analysis/confidence"
	"github.com/moodsense/moodsense/analysis/dedup"
	"github.com/moodsense/moodsense/analysis/gating"
	"github.com/moodsense/moodsense/analysis/pattern"
	"github.com/moodsense/moodsense/internal/profile"
)

func newTestServer(t *testing.T) (*Server, *pattern.Engine) {
	t.Helper()
	engine := pattern.NewDefaultEngine()
	calc := confidence.NewCalculator()
	svc := analysis.NewService(analysis.Config{
		Classifier: classifier.New(engine, calc, classifier.Config{}),
		Dedup:      dedup.New(0),
		Gate:       gating.NewEngine(gating.DefaultConfig(), nil, nil, calc, nil),
		Cache:      cache.NewLayer(cache.Config{}),
	})
	p := &profile.Profile{Mode: "test", Version: "test"}
	return NewServer(p, svc, engine, nil, nil), engine
}

func doJSON(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthzMinVersion(t *testing.T) {
	s, _ := newTestServer(t)
	s.profile.Version = "0.2.0"

	t.Run("compatible client", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/healthz?min_version=0.1.0", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("backend too old", func(t *testing.T) {
		rec := doJSON(s, http.MethodGet, "/healthz?min_version=0.3.0", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"outdated"`)
	})
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("valid entry", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/analyze",
			`{"kind":"text","content":"Kapıyı kilitledim mi diye üç kez kontrol ettim","user_id":"u1"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var res analysis.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, pattern.CategoryCompulsion, res.Category)
		assert.Equal(t, classifier.RouteOpenScreen, res.Route)
		assert.Equal(t, analysis.SourceHeuristic, res.Source)
	})

	t.Run("validation failure maps to 400", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/analyze",
			`{"kind":"text","content":"","user_id":"u1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/analyze", `{"kind":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEventEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/v1/events/entry_added?user_id=u1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event":"entry_added"`)
}

func TestStatsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_requests"`)

	rec = doJSON(s, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPatternAdmin(t *testing.T) {
	s, engine := newTestServer(t)

	t.Run("add", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/admin/patterns",
			`{"id":"distortion-custom","category":"distortion","keywords":["berbat"],"weight":0.7}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, engine.RemovePattern("distortion-custom"))
	})

	t.Run("invalid spec rejected", func(t *testing.T) {
		rec := doJSON(s, http.MethodPost, "/api/v1/admin/patterns",
			`{"id":"bad","category":"nope","keywords":["x"],"weight":0.7}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("remove unknown is 404", func(t *testing.T) {
		rec := doJSON(s, http.MethodDelete, "/api/v1/admin/patterns/ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("user weights", func(t *testing.T) {
		rec := doJSON(s, http.MethodPut, "/api/v1/admin/users/u1/weights",
			`{"compulsion-checking":0.5}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"weights":1`)
	})
}
