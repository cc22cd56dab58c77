package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kozaktomas/gate-attendance/internal/attendance"
	"github.com/kozaktomas/gate-attendance/internal/matcher"
)

// fakeMatcher returns canned results and records the last call
type fakeMatcher struct {
	mu            sync.Mutex
	results       []matcher.Result
	err           error
	refreshErr    error
	stats         matcher.Stats
	lastProbes    [][]float32
	lastThreshold float64
	refreshes     int
}

func (f *fakeMatcher) MatchBatch(ctx context.Context, probes [][]float32, threshold float64) ([]matcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastProbes = probes
	f.lastThreshold = threshold
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeMatcher) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeMatcher) Stats() matcher.Stats {
	return f.stats
}

// fakeSettingsCache counts invalidations
type fakeSettingsCache struct {
	invalidations int
}

func (f *fakeSettingsCache) Invalidate() {
	f.invalidations++
}

// fakeRecorder returns canned outcomes
type fakeRecorder struct {
	result    attendance.Result
	err       error
	today     []attendance.TodayEntry
	todayErr  error
	gotIntent attendance.Intent
	gotMode   attendance.DisplayMode
	gotID     string
}

func (f *fakeRecorder) Record(ctx context.Context, studentID string, intent attendance.Intent) (attendance.Result, error) {
	f.gotID = studentID
	f.gotIntent = intent
	return f.result, f.err
}

func (f *fakeRecorder) Today(ctx context.Context, intent attendance.Intent, mode attendance.DisplayMode) ([]attendance.TodayEntry, error) {
	f.gotIntent = intent
	f.gotMode = mode
	return f.today, f.todayErr
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
