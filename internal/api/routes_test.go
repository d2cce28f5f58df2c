package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/factory-engine/internal/batch"
	"github.com/rawblock/factory-engine/internal/config"
	"github.com/rawblock/factory-engine/internal/metrics"
	"github.com/rawblock/factory-engine/internal/shadow"
	"github.com/rawblock/factory-engine/internal/solver"
	"github.com/rawblock/factory-engine/pkg/models"
)

const sampleText = `[.##.] (3) (1,3) (2) (2,3) (0,2) (0,1) {3,5,4,7}
[...#.] (0,2,3,4) (2,3) (0,4) (0,1,2) (1,2,3,4) {7,5,12,7,2}
[.###.#] (0,1,2,3,4) (0,3,4) (0,1,2,4,5) (1,2) {10,11,11,5,10,5}
`

const sampleJSON = `{"counters":4,"toggleTarget":[1,2],"buttons":[[3],[1,3],[2],[2,3],[0,2],[0,1]],"joltageTarget":[3,5,4,7]}`

const brokenJSON = `{"counters":1,"toggleTarget":[0],"buttons":[[]],"joltageTarget":[1]}`

func newTestOptions(mutate ...func(*Options)) Options {
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	hub := NewHub(nil)
	opts := Options{
		Server: config.Default().Server,
		Hub:    hub,
		Solver: batch.NewSolver(
			batch.WithWorkers(2),
			batch.WithRecorder(metrics.NewRecorder(reg)),
			batch.WithEventFunc(BroadcastSolveEvent(hub)),
		),
		Gatherer: reg,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return opts
}

func do(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	r := SetupRouter(newTestOptions())

	w := do(r, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status       string          `json:"status"`
		DBConnected  bool            `json:"dbConnected"`
		Capabilities map[string]bool `json:"capabilities"`
		Limits       map[string]int  `json:"limits"`
	}
	decode(t, w, &body)
	assert.Equal(t, "operational", body.Status)
	assert.False(t, body.DBConnected)
	assert.False(t, body.Capabilities["shadow_mode"])
	assert.Equal(t, models.MaxCounters, body.Limits["maxCounters"])
}

func TestSolve_JSON(t *testing.T) {
	r := SetupRouter(newTestOptions())

	w := do(r, http.MethodPost, "/api/v1/solve", `{"machines":[`+sampleJSON+`]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report models.BatchReport
	decode(t, w, &report)
	assert.Equal(t, 2, report.ToggleTotal)
	assert.Equal(t, 10, report.JoltageTotal)
	assert.Equal(t, "strict", report.Policy)
	assert.NotEmpty(t, report.RunID)
}

func TestSolve_StrictAndSkip(t *testing.T) {
	r := SetupRouter(newTestOptions())

	w := do(r, http.MethodPost, "/api/v1/solve", `{"machines":[`+sampleJSON+`,`+brokenJSON+`]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var failed struct {
		Error  string             `json:"error"`
		Report models.BatchReport `json:"report"`
	}
	decode(t, w, &failed)
	assert.Equal(t, 1, failed.Report.Failed)

	w = do(r, http.MethodPost, "/api/v1/solve", `{"policy":"skip","machines":[`+sampleJSON+`,`+brokenJSON+`]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report models.BatchReport
	decode(t, w, &report)
	assert.Equal(t, 2, report.ToggleTotal)
	assert.Equal(t, 10, report.JoltageTotal)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Results[1].Solved())
}

func TestSolve_BadRequests(t *testing.T) {
	r := SetupRouter(newTestOptions())

	for name, body := range map[string]string{
		"no machines":  `{"machines":[]}`,
		"bad policy":   `{"policy":"lenient","machines":[` + sampleJSON + `]}`,
		"bad index":    `{"machines":[{"counters":2,"buttons":[[16]],"joltageTarget":[1,1]}]}`,
		"not json":     `{machines`,
		"missing body": `{}`,
	} {
		w := do(r, http.MethodPost, "/api/v1/solve", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestSolveText(t *testing.T) {
	r := SetupRouter(newTestOptions())

	w := do(r, http.MethodPost, "/api/v1/solve/text", sampleText)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report models.BatchReport
	decode(t, w, &report)
	assert.Equal(t, 7, report.ToggleTotal)
	assert.Equal(t, 33, report.JoltageTotal)
	assert.Equal(t, 3, report.Machines)

	w = do(r, http.MethodPost, "/api/v1/solve/text", "[.#] (0,5) {1,1}\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/solve/text", "\n\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/solve/text?policy=lenient", sampleText)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/solve/text?policy=skip", "[#] () {1}\n"+sampleText)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &report)
	assert.Equal(t, 33, report.JoltageTotal)
	assert.Equal(t, 1, report.Failed)
}

func TestMachine(t *testing.T) {
	r := SetupRouter(newTestOptions())

	w := do(r, http.MethodPost, "/api/v1/machine", sampleJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Machine string `json:"machine"`
		Toggle  struct {
			Presses    int  `json:"presses"`
			Infeasible bool `json:"infeasible"`
		} `json:"toggle"`
		Joltage struct {
			Presses    int  `json:"presses"`
			Infeasible bool `json:"infeasible"`
		} `json:"joltage"`
		Stats solver.JoltageStats `json:"stats"`
	}
	decode(t, w, &body)
	assert.Equal(t, "[.##.] (3) (1,3) (2) (2,3) (0,2) (0,1) {3,5,4,7}", body.Machine)
	assert.Equal(t, 2, body.Toggle.Presses)
	assert.Equal(t, 10, body.Joltage.Presses)
	assert.Positive(t, body.Stats.Patterns)

	w = do(r, http.MethodPost, "/api/v1/machine", brokenJSON)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.True(t, body.Toggle.Infeasible)
	assert.True(t, body.Joltage.Infeasible)

	w = do(r, http.MethodPost, "/api/v1/machine", `{"counters":17,"joltageTarget":[0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns_NoDatabase(t *testing.T) {
	r := SetupRouter(newTestOptions())

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/runs", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/runs/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		do(r, http.MethodGet, "/api/v1/runs/6f1c1f44-8a43-4f4e-9d7a-7b0a1e0c2b11", "").Code)
}

func TestShadow(t *testing.T) {
	disabled := SetupRouter(newTestOptions())
	assert.Equal(t, http.StatusServiceUnavailable,
		do(disabled, http.MethodPost, "/api/v1/shadow", `{"machines":[`+sampleJSON+`]}`).Code)

	r := SetupRouter(newTestOptions(func(o *Options) {
		o.Shadow = shadow.NewShadowRunner(nil, 1, solver.DefaultSearchBudget)
	}))

	w := do(r, http.MethodPost, "/api/v1/shadow", `{"machines":[`+sampleJSON+`]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Results []models.ShadowComparison `json:"results"`
		Summary shadow.Summary            `json:"summary"`
	}
	decode(t, w, &body)
	assert.Equal(t, shadow.Summary{Total: 1, Consistent: 1}, body.Summary)
	assert.Equal(t, 10, body.Results[0].Shadow)

	// The drift report needs stored comparisons.
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/shadow/report", "").Code)
}

func TestAuth(t *testing.T) {
	r := SetupRouter(newTestOptions(func(o *Options) {
		o.Server.AuthToken = "secret"
	}))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/v1/machine", sampleJSON).Code)
	assert.Equal(t, http.StatusForbidden,
		do(r, http.MethodPost, "/api/v1/machine", sampleJSON, "Authorization", "Basic c2VjcmV0").Code)
	assert.Equal(t, http.StatusForbidden,
		do(r, http.MethodPost, "/api/v1/machine", sampleJSON, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		do(r, http.MethodPost, "/api/v1/machine", sampleJSON, "Authorization", "Bearer secret").Code)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(60, 2)
	defer limiter.Stop()
	r := SetupRouter(newTestOptions(func(o *Options) { o.Limiter = limiter }))

	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/runs", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/runs", "").Code)

	w := do(r, http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "60 requests/minute per IP")

	// Public routes are not limited.
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/health", "").Code)
}

func TestMetricsAndProgress(t *testing.T) {
	opts := newTestOptions()
	r := SetupRouter(opts)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/solve/text", sampleText).Code)

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "factory_batches_total")
	assert.Contains(t, w.Body.String(), "factory_machines_solved_total")

	w = do(r, http.MethodGet, "/api/v1/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p batch.Progress
	decode(t, w, &p)
	assert.Equal(t, batch.Progress{TotalMachines: 3, TotalSolved: 3}, p)
}

func TestCORS(t *testing.T) {
	r := SetupRouter(newTestOptions())
	w := do(r, http.MethodOptions, "/api/v1/solve", "", "Origin", "https://anywhere.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	r = SetupRouter(newTestOptions(func(o *Options) {
		o.Server.AllowedOrigins = []string{"https://factory.example"}
	}))
	w = do(r, http.MethodGet, "/api/v1/health", "", "Origin", "https://factory.example")
	assert.Equal(t, "https://factory.example", w.Header().Get("Access-Control-Allow-Origin"))
	w = do(r, http.MethodGet, "/api/v1/health", "", "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream_ReceivesSolveEvents(t *testing.T) {
	opts := newTestOptions()
	go opts.Hub.Run()
	srv := httptest.NewServer(SetupRouter(opts))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return opts.Hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/solve", "application/json",
		bytes.NewBufferString(`{"machines":[`+sampleJSON+`]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload struct {
		Type  string      `json:"type"`
		Event batch.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, "machine_solved", payload.Type)
	assert.Equal(t, 10, payload.Event.JoltagePresses)
}
