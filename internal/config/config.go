package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database DatabaseConfig
	Registry RegistryConfig
	Matcher  MatcherConfig
	Recorder RecorderConfig
	Notify   NotifyConfig
	Gate     GateConfig
	Web      WebConfig
	Log      LogConfig
	Messages MessagesConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// RegistryConfig points at the school-records database owned by the CRUD platform.
// When DSN is empty, students and guardians are read from the PostgreSQL store.
type RegistryConfig struct {
	DSN string // MySQL DSN (e.g., school:school@tcp(mariadb:3306)/school?parseTime=true)
}

type MatcherConfig struct {
	Threshold    float64       // minimum cosine similarity for a match (default 0.75)
	CacheTTL     time.Duration // embedding cache lifetime (default 5m)
	BatchWorkers int           // concurrent probes in MatchBatch (default 8)
}

type RecorderConfig struct {
	Timezone    string        // IANA zone used to derive the school day (default Local)
	SnapshotTTL time.Duration // how long a gate configuration snapshot is reused (default 30s)
}

type NotifyConfig struct {
	EmailURL    string        // shoutrrr SMTP URL, "{recipient}" is replaced by the guardian address
	SMSURL      string        // shoutrrr SMS URL, "{recipient}" is replaced by the guardian phone
	Workers     int           // delivery workers (default 4)
	QueueSize   int           // pending notifications before new ones are dropped (default 256)
	SendTimeout time.Duration // per-message transport timeout (default 15s)
}

type GateConfig struct {
	NATSURL     string
	NATSSubject string // defaults to gate.triggers
	MQTTBroker  string // e.g. tcp://mosquitto:1883
	MQTTTopic   string // defaults to gate/triggers
	MQTTClient  string
}

type WebConfig struct {
	APIKey         string   // bearer token required from camera and poller clients (optional)
	AllowedOrigins []string // CORS whitelist in addition to localhost
}

type LogConfig struct {
	Mode string // "dev" or "prod"
}

// MessagesConfig holds guardian message templates keyed by intent then channel.
type MessagesConfig struct {
	Templates map[string]map[string]MessageTemplate `yaml:"templates"`
}

type MessageTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Location resolves the configured school timezone, falling back to time.Local.
func (c *RecorderConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Template returns the message template for an intent and channel.
func (c *MessagesConfig) Template(intent, channel string) (MessageTemplate, bool) {
	byChannel, ok := c.Templates[intent]
	if !ok {
		return MessageTemplate{}, false
	}
	tmpl, ok := byChannel[channel]
	return tmpl, ok
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in (0, 1]. Anything else yields the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func loadMessages() MessagesConfig {
	var messages MessagesConfig
	if err := yaml.Unmarshal(defaultsYAML, &messages); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return messages
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Registry: RegistryConfig{
			DSN: os.Getenv("REGISTRY_DATABASE_DSN"),
		},
		Matcher: MatcherConfig{
			Threshold:    envFloat("MATCHER_THRESHOLD", 0.75),
			CacheTTL:     envDuration("MATCHER_CACHE_TTL", 5*time.Minute),
			BatchWorkers: envInt("MATCHER_BATCH_WORKERS", 8),
		},
		Recorder: RecorderConfig{
			Timezone:    os.Getenv("SCHOOL_TIMEZONE"),
			SnapshotTTL: envDuration("GATE_SETTINGS_TTL", 30*time.Second),
		},
		Notify: NotifyConfig{
			EmailURL:    os.Getenv("NOTIFY_EMAIL_URL"),
			SMSURL:      os.Getenv("NOTIFY_SMS_URL"),
			Workers:     envInt("NOTIFY_WORKERS", 4),
			QueueSize:   envInt("NOTIFY_QUEUE_SIZE", 256),
			SendTimeout: envDuration("NOTIFY_SEND_TIMEOUT", 15*time.Second),
		},
		Gate: GateConfig{
			NATSURL:     os.Getenv("GATE_NATS_URL"),
			NATSSubject: envString("GATE_NATS_SUBJECT", "gate.triggers"),
			MQTTBroker:  os.Getenv("GATE_MQTT_BROKER"),
			MQTTTopic:   envString("GATE_MQTT_TOPIC", "gate/triggers"),
			MQTTClient:  envString("GATE_MQTT_CLIENT_ID", "gate-attendance"),
		},
		Web: WebConfig{
			APIKey:         os.Getenv("WEB_API_KEY"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Mode: envString("LOG_MODE", "dev"),
		},
		Messages: loadMessages(),
	}
}
