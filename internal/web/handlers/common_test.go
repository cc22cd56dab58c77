package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusNoContent, nil)

	if recorder.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "bad things")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "bad things")
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("s1\nforged line\r"); got != "s1forged line" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest("GET", "/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %q", result["status"])
	}
}
