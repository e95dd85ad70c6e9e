package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIPort        string
	LogLevel       string
	LogFormat      string
	ServiceVersion string
	OTLPEndpoint   string

	// PostgresDSN selects the Postgres state store; empty keeps state.json files.
	PostgresDSN          string
	PostgresEnsureSchema bool

	NATSURL        string
	NATSSubject    string
	NATSQueueGroup string

	// RedisAddr selects the distributed session lock; empty uses an in-process lock.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OllamaURL      string
	OllamaGenModel string

	// VisionURL enables OCR for PDFs without a text layer.
	VisionURL        string
	VisionAPIKey     string
	VisionBatchPages int

	DataDir            string
	DocumentsRoot      string
	DocumentExtensions []string

	GCSCredentialsFile string
	UploadDestination  string

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	CallTimeout         time.Duration
	MaxRounds           int
	TherapyMaxLapse     time.Duration
	GapThreshold        time.Duration
	LockTTL             time.Duration

	GenMaxConcurrent int
	GenPerMinute     int
	GenBurst         int

	WorkerConcurrency int
	WorkerMetricsPort string

	APIRateLimitRPS     float64
	APIRateLimitBurst   int
	APIMaxInFlight      int
	APIBackpressureWait time.Duration

	ContractRulesPath string
}

func Load() Config {
	return Config{
		APIPort:        mustEnv("API_PORT", "8080"),
		LogLevel:       mustEnv("LOG_LEVEL", "info"),
		LogFormat:      mustEnv("LOG_FORMAT", "json"),
		ServiceVersion: mustEnv("SERVICE_VERSION", "dev"),
		OTLPEndpoint:   mustEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		PostgresDSN:          mustEnv("POSTGRES_DSN", ""),
		PostgresEnsureSchema: mustEnvBool("POSTGRES_ENSURE_SCHEMA", true),

		NATSURL:        mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:    mustEnv("NATS_SUBJECT", "chronology.sessions"),
		NATSQueueGroup: mustEnv("NATS_QUEUE_GROUP", "chronology-workers"),

		RedisAddr:     mustEnv("REDIS_ADDR", ""),
		RedisPassword: mustEnv("REDIS_PASSWORD", ""),
		RedisDB:       mustEnvInt("REDIS_DB", 0),

		OllamaURL:      mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel: mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),

		VisionURL:        mustEnv("VISION_URL", ""),
		VisionAPIKey:     mustEnv("VISION_API_KEY", ""),
		VisionBatchPages: mustEnvInt("VISION_BATCH_PAGES", 5),

		DataDir:            mustEnv("DATA_DIR", "./data/sessions"),
		DocumentsRoot:      mustEnv("DOCUMENTS_ROOT", "./data/patients"),
		DocumentExtensions: mustEnvList("DOCUMENT_EXTENSIONS", []string{".pdf", ".txt"}),

		GCSCredentialsFile: mustEnv("GCS_CREDENTIALS_FILE", ""),
		UploadDestination:  mustEnv("UPLOAD_DESTINATION", ""),

		RetryMaxAttempts:    mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: mustEnvDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
		RetryMaxBackoff:     mustEnvDuration("RETRY_MAX_BACKOFF", 5*time.Second),
		CallTimeout:         mustEnvDuration("CALL_TIMEOUT", 2*time.Minute),
		MaxRounds:           mustEnvInt("MAX_CORRECTION_ROUNDS", 3),
		TherapyMaxLapse:     mustEnvDuration("THERAPY_MAX_LAPSE", 30*24*time.Hour),
		GapThreshold:        mustEnvDuration("GAP_THRESHOLD", 90*24*time.Hour),
		LockTTL:             mustEnvDuration("SESSION_LOCK_TTL", 30*time.Minute),

		GenMaxConcurrent: mustEnvInt("GEN_MAX_CONCURRENT", 2),
		GenPerMinute:     mustEnvInt("GEN_PER_MINUTE", 0),
		GenBurst:         mustEnvInt("GEN_BURST", 1),

		WorkerConcurrency: mustEnvInt("WORKER_CONCURRENCY", 2),
		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),

		APIRateLimitRPS:     mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:   mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:      mustEnvInt("API_MAX_IN_FLIGHT", 64),
		APIBackpressureWait: mustEnvDuration("API_BACKPRESSURE_WAIT", 250*time.Millisecond),

		ContractRulesPath: mustEnv("CONTRACT_RULES_PATH", ""),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations plus a "d" suffix for whole days.
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func ParseDuration(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}
