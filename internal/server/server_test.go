package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"autopress/internal/agent"
	"autopress/internal/cache"
	"autopress/internal/core"
)

type fakeAgent struct {
	mu       sync.Mutex
	running  bool
	executed int
}

func (f *fakeAgent) Execute(_ context.Context, _ agent.Options) (*core.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed++
	return &core.ExecutionRecord{ID: "exec-1", Status: core.ExecutionSuccess}, nil
}

func (f *fakeAgent) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAgent) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executed
}

type fakeSchedule struct {
	state    core.ScheduleState
	resched  int
	enabled  *bool
	interval *int
}

func (f *fakeSchedule) State(context.Context) (core.ScheduleState, error) { return f.state, nil }
func (f *fakeSchedule) SetEnabled(_ context.Context, enabled bool) error {
	f.enabled = &enabled
	return nil
}
func (f *fakeSchedule) SetIntervalHours(_ context.Context, hours int) error {
	f.interval = &hours
	return nil
}
func (f *fakeSchedule) ScheduleNextRun(context.Context) error {
	f.resched++
	return nil
}

type fakeHistory struct {
	records []core.ExecutionRecord
}

func (f *fakeHistory) GetExecution(_ context.Context, id string) (*core.ExecutionRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) RecentExecutions(_ context.Context, n int) ([]core.ExecutionRecord, error) {
	if n > len(f.records) {
		n = len(f.records)
	}
	return f.records[:n], nil
}

type fakeCache struct {
	tags     []string
	patterns []string
	cleared  bool
}

func (f *fakeCache) Stats() cache.Stats { return cache.Stats{Hits: 7, Misses: 3} }
func (f *fakeCache) InvalidateByTag(_ context.Context, tag string) {
	f.tags = append(f.tags, tag)
}
func (f *fakeCache) InvalidateByPattern(_ context.Context, pattern string) {
	f.patterns = append(f.patterns, pattern)
}
func (f *fakeCache) ClearAll(context.Context) { f.cleared = true }

func newTestServer(ag *fakeAgent, sched *fakeSchedule, hist *fakeHistory, c *fakeCache) http.Handler {
	if ag == nil {
		ag = &fakeAgent{}
	}
	if hist == nil {
		hist = &fakeHistory{}
	}
	// A nil *fakeSchedule stored in the interface would not compare
	// equal to a nil interface; pass a true nil so the handlers' guards
	// see the component as absent.
	var schedule Schedule
	if sched != nil {
		schedule = sched
	}
	var cacheIface Cache
	if c != nil {
		cacheIface = c
	}
	srv := New(":0", ag, schedule, hist, cacheIface)
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRunStartsExecution(t *testing.T) {
	ag := &fakeAgent{}
	h := newTestServer(ag, nil, nil, nil)

	w := do(t, h, http.MethodPost, "/api/agent/run", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	deadline := time.After(time.Second)
	for ag.executions() == 0 {
		select {
		case <-deadline:
			t.Fatal("Execute never called")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunConflictsWhileRunning(t *testing.T) {
	ag := &fakeAgent{running: true}
	h := newTestServer(ag, nil, nil, nil)

	w := do(t, h, http.MethodPost, "/api/agent/run", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while a run is in flight, got %d", w.Code)
	}
}

func TestStatusIncludesScheduleAndLastExecution(t *testing.T) {
	sched := &fakeSchedule{state: core.ScheduleState{Enabled: true, IntervalHours: 6}}
	hist := &fakeHistory{records: []core.ExecutionRecord{{ID: "exec-9", Status: core.ExecutionSuccess}}}
	h := newTestServer(&fakeAgent{}, sched, hist, nil)

	w := do(t, h, http.MethodGet, "/api/agent/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	for _, key := range []string{"running", "schedule", "last_execution"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("Expected %q in status response", key)
		}
	}
}

func TestHistoryRespectsLimit(t *testing.T) {
	hist := &fakeHistory{records: []core.ExecutionRecord{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}
	h := newTestServer(&fakeAgent{}, nil, hist, nil)

	w := do(t, h, http.MethodGet, "/api/agent/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Executions []core.ExecutionRecord `json:"executions"`
		Count      int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 records, got %d", resp.Count)
	}

	if w := do(t, h, http.MethodGet, "/api/agent/history?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid limit, got %d", w.Code)
	}
}

func TestExecutionLookup(t *testing.T) {
	hist := &fakeHistory{records: []core.ExecutionRecord{{ID: "exec-5", Status: core.ExecutionPartial}}}
	h := newTestServer(&fakeAgent{}, nil, hist, nil)

	w := do(t, h, http.MethodGet, "/api/agent/executions/exec-5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/agent/executions/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown execution, got %d", w.Code)
	}
}

func TestUpdateSchedule(t *testing.T) {
	sched := &fakeSchedule{state: core.ScheduleState{Enabled: true, IntervalHours: 6}}
	h := newTestServer(&fakeAgent{}, sched, nil, nil)

	w := do(t, h, http.MethodPut, "/api/agent/schedule", `{"enabled":false,"interval_hours":12}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sched.enabled == nil || *sched.enabled {
		t.Error("Expected enabled=false applied")
	}
	if sched.interval == nil || *sched.interval != 12 {
		t.Error("Expected interval 12 applied")
	}
	if sched.resched != 1 {
		t.Errorf("Expected reschedule after interval change, got %d", sched.resched)
	}

	if w := do(t, h, http.MethodPut, "/api/agent/schedule", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty update, got %d", w.Code)
	}
}

func TestUpdateScheduleUnavailableWithoutScheduler(t *testing.T) {
	h := newTestServer(&fakeAgent{}, nil, nil, nil)
	if w := do(t, h, http.MethodPut, "/api/agent/schedule", `{"enabled":true}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a scheduler, got %d", w.Code)
	}
}

func TestCacheUnavailableWithoutCache(t *testing.T) {
	h := newTestServer(&fakeAgent{}, nil, nil, nil)
	if w := do(t, h, http.MethodGet, "/api/cache/stats", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a cache, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/cache/invalidate", `{"all":true}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a cache, got %d", w.Code)
	}
}

func TestCacheStatsAndInvalidate(t *testing.T) {
	c := &fakeCache{}
	h := newTestServer(&fakeAgent{}, nil, nil, c)

	w := do(t, h, http.MethodGet, "/api/cache/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats cache.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Invalid stats: %v", err)
	}
	if stats.Hits != 7 || stats.Misses != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if w := do(t, h, http.MethodPost, "/api/cache/invalidate", `{"tag":"articles"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for tag invalidation, got %d", w.Code)
	}
	if len(c.tags) != 1 || c.tags[0] != "articles" {
		t.Errorf("Expected tag invalidation recorded, got %v", c.tags)
	}

	if w := do(t, h, http.MethodPost, "/api/cache/invalidate", `{"pattern":"feed:*"}`); w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for pattern invalidation, got %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/cache/invalidate", `{"all":true}`); w.Code != http.StatusOK || !c.cleared {
		t.Errorf("Expected full clear, got code %d cleared %v", w.Code, c.cleared)
	}
	if w := do(t, h, http.MethodPost, "/api/cache/invalidate", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty invalidation, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeAgent{}, nil, nil, nil)
	if w := do(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 from healthz, got %d", w.Code)
	}
}
