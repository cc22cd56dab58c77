package config

import (
	"testing"
	"time"
)

func TestEnvInt_Default(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "")

	if got := envInt("TEST_ENV_INT", 42); got != 42 {
		t.Errorf("expected default 42, got %d", got)
	}
}

func TestEnvInt_Valid(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "7")

	if got := envInt("TEST_ENV_INT", 42); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestEnvInt_InvalidFallsBack(t *testing.T) {
	for _, value := range []string{"abc", "0", "-3"} {
		t.Setenv("TEST_ENV_INT", value)
		if got := envInt("TEST_ENV_INT", 42); got != 42 {
			t.Errorf("envInt(%q) = %d, want default 42", value, got)
		}
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_ENV_LIST", " https://a.example , ,https://b.example")

	got := envList("TEST_ENV_LIST")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("envList() = %v", got)
	}

	t.Setenv("TEST_ENV_LIST", "")
	if got := envList("TEST_ENV_LIST"); got != nil {
		t.Errorf("expected nil for empty variable, got %v", got)
	}
}

func TestEnvFloat_Range(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 0.75},
		{"0.6", 0.6},
		{"1", 1},
		{"1.5", 0.75},
		{"0", 0.75},
		{"nope", 0.75},
	}
	for _, tt := range tests {
		t.Setenv("TEST_ENV_FLOAT", tt.value)
		if got := envFloat("TEST_ENV_FLOAT", 0.75); got != tt.want {
			t.Errorf("envFloat(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_ENV_DURATION", "90s")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}

	t.Setenv("TEST_ENV_DURATION", "soon")
	if got := envDuration("TEST_ENV_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected fallback 1m, got %v", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MATCHER_THRESHOLD", "")
	t.Setenv("MATCHER_CACHE_TTL", "")
	t.Setenv("MATCHER_BATCH_WORKERS", "")
	t.Setenv("NOTIFY_WORKERS", "")
	t.Setenv("GATE_NATS_SUBJECT", "")

	cfg := Load()

	if cfg.Matcher.Threshold != 0.75 {
		t.Errorf("expected threshold 0.75, got %v", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache TTL 5m, got %v", cfg.Matcher.CacheTTL)
	}
	if cfg.Matcher.BatchWorkers != 8 {
		t.Errorf("expected 8 batch workers, got %d", cfg.Matcher.BatchWorkers)
	}
	if cfg.Notify.Workers != 4 {
		t.Errorf("expected 4 notify workers, got %d", cfg.Notify.Workers)
	}
	if cfg.Gate.NATSSubject != "gate.triggers" {
		t.Errorf("expected default subject, got %q", cfg.Gate.NATSSubject)
	}
}

func TestMessages_EmbeddedTemplates(t *testing.T) {
	messages := loadMessages()

	for _, intent := range []string{"arrival", "departure"} {
		for _, channel := range []string{"email", "sms"} {
			tmpl, ok := messages.Template(intent, channel)
			if !ok {
				t.Errorf("missing template for %s/%s", intent, channel)
				continue
			}
			if tmpl.Body == "" {
				t.Errorf("empty body for %s/%s", intent, channel)
			}
		}
	}

	if tmpl, _ := messages.Template("arrival", "email"); tmpl.Subject == "" {
		t.Error("expected arrival email subject")
	}
}

func TestMessages_UnknownIntent(t *testing.T) {
	messages := loadMessages()

	if _, ok := messages.Template("lunch", "email"); ok {
		t.Error("expected no template for unknown intent")
	}
}

func TestRecorderConfig_Location(t *testing.T) {
	cfg := RecorderConfig{Timezone: "UTC"}
	if loc := cfg.Location(); loc.String() != "UTC" {
		t.Errorf("expected UTC, got %s", loc)
	}

	cfg = RecorderConfig{Timezone: "Not/AZone"}
	if loc := cfg.Location(); loc != time.Local {
		t.Errorf("expected Local fallback, got %s", loc)
	}

	cfg = RecorderConfig{}
	if loc := cfg.Location(); loc != time.Local {
		t.Errorf("expected Local for empty timezone, got %s", loc)
	}
}
