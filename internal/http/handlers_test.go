package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sightama/canifuckingdownwindtoday/internal/cache"
	"github.com/sightama/canifuckingdownwindtoday/internal/lifecycle"
	"github.com/sightama/canifuckingdownwindtoday/internal/models"
	"github.com/sightama/canifuckingdownwindtoday/internal/service"
	"github.com/sightama/canifuckingdownwindtoday/internal/traffic"
)

var testPersonas = []string{"drill_sergeant", "zen_coach", "salty_local"}

type stubSensor struct {
	reading models.Reading
	err     error
}

func (s *stubSensor) Fetch(ctx context.Context) (models.Reading, error) {
	return s.reading, s.err
}

type stubGenerator struct{}

func (g *stubGenerator) GenerateBatch(ctx context.Context, r models.Reading, rating int, mode models.Mode) (models.PersonaPool, error) {
	pool := models.PersonaPool{}
	for _, p := range testPersonas {
		pool[p] = []string{"line for " + p}
	}
	return pool, nil
}

func (g *stubGenerator) GenerateOne(ctx context.Context, r models.Reading, rating int, mode models.Mode, persona string) ([]string, error) {
	return []string{"line for " + persona}, nil
}

func (g *stubGenerator) GenerateOfflinePool(ctx context.Context) (models.PersonaPool, error) {
	pool := models.PersonaPool{}
	for _, p := range testPersonas {
		pool[p] = []string{"offline line for " + p}
	}
	return pool, nil
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	sc := &stubSensor{reading: models.Reading{
		WindSpeedKts:  18.2,
		WindGustKts:   22,
		WindLullKts:   15.5,
		WindDirection: "N",
		Timestamp:     time.Now(),
	}}
	store := cache.NewStore(2*time.Minute, 15*time.Minute, cache.NewMemoryPoolStore())
	orch := service.NewOrchestrator(sc, &stubGenerator{}, store, testPersonas, 5*time.Minute, 2, zap.NewNop())
	handler := NewHandler(orch, testPersonas, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		StartTime:        time.Now(),
	}, zap.NewNop())

	router := mux.NewRouter()
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.HandleFunc("/conditions", handler.GetConditions).Methods("GET")
	router.HandleFunc("/conditions/initial/{persona}", handler.GetInitialConditions).Methods("GET")
	router.HandleFunc("/conditions/refresh", handler.PostRefresh).Methods("POST")
	router.HandleFunc("/variation/{mode}/{persona}", handler.GetVariation).Methods("GET")
	router.HandleFunc("/recommendations", handler.GetRecommendations).Methods("GET")
	return router
}

// TestGetConditions_OK verifies the full payload endpoint returns reading,
// ratings, and commentary for every persona.
func TestGetConditions_OK(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/conditions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data models.ConditionsData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Offline {
		t.Error("offline = true, want false")
	}
	if data.Reading == nil {
		t.Fatal("reading missing")
	}
	if len(data.Ratings) != len(models.Modes) {
		t.Errorf("ratings = %d modes, want %d", len(data.Ratings), len(models.Modes))
	}
	for _, mode := range models.Modes {
		if len(data.Variations[mode]) != len(testPersonas) {
			t.Errorf("mode %s has %d personas, want %d", mode, len(data.Variations[mode]), len(testPersonas))
		}
	}
}

// TestGetInitialConditions_OK verifies the fast-path endpoint returns only
// the requested persona.
func TestGetInitialConditions_OK(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/conditions/initial/zen_coach", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data models.ConditionsData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.InitialPersona != "zen_coach" {
		t.Errorf("initialPersona = %q, want zen_coach", data.InitialPersona)
	}
	for _, mode := range models.Modes {
		if len(data.Variations[mode]) != 1 {
			t.Errorf("mode %s has %d personas, want 1", mode, len(data.Variations[mode]))
		}
	}
}

// TestGetInitialConditions_UnknownPersona verifies validation.
func TestGetInitialConditions_UnknownPersona(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/conditions/initial/chill_bro", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestGetVariation_OK verifies the cache-only line endpoint.
func TestGetVariation_OK(t *testing.T) {
	router := newTestRouter(t)

	// Populate the cache first.
	warm := httptest.NewRequest("GET", "/conditions", nil)
	router.ServeHTTP(httptest.NewRecorder(), warm)

	req := httptest.NewRequest("GET", "/variation/sup/salty_local", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["variation"] == "" {
		t.Error("variation is empty")
	}
}

// TestGetVariation_InvalidMode verifies mode validation.
func TestGetVariation_InvalidMode(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/variation/kitesurf/zen_coach", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestPostRefresh verifies the background fill trigger accepts and validates
// the optional persona to skip.
func TestPostRefresh(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("POST", "/conditions/refresh", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	req = httptest.NewRequest("POST", "/conditions/refresh?persona=chill_bro", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown persona", rec.Code)
	}
}

// TestGetRecommendations verifies foil advice comes back with ratings.
func TestGetRecommendations(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest("GET", "/recommendations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Foil    models.FoilSetup    `json:"foil"`
		Ratings map[models.Mode]int `json:"ratings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Foil.Code == "" {
		t.Error("foil code empty")
	}
}

// TestGetHealth_Healthy verifies the baseline health response.
func TestGetHealth_Healthy(t *testing.T) {
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

// TestGetHealth_ShuttingDown verifies shutdown takes priority over all other
// states.
func TestGetHealth_ShuttingDown(t *testing.T) {
	traffic.Reset()
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestGetHealth_Degraded verifies a sensor error-rate breach reports
// degraded.
func TestGetHealth_Degraded(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()
	lifecycle.SetShuttingDown(false)
	for i := 0; i < 10; i++ {
		traffic.RecordError()
	}
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestRateLimitMiddleware verifies requests past the burst get 429.
func TestRateLimitMiddleware(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 2)
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/ok", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two codes = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third code = %d, want 429", codes[2])
	}
}

// TestCorrelationIDMiddleware verifies an incoming id is echoed and a missing
// one is generated.
func TestCorrelationIDMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ok", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("correlation id = %q, want abc-123", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/ok", nil))
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("correlation id not generated")
	}
}
