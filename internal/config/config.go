package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	STT       STTConfig
	LLM       LLMConfig
	Splitter  SplitterConfig
	DB        DBConfig
	Archive   ArchiveConfig
	Kafka     KafkaConfig
	OutputDir string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxUploadBytes bounds multipart uploads on POST /calls.
	MaxUploadBytes int64
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider        string // sarvam | google
	BaseURL         string
	APIKey          string
	Model           string
	LanguageCode    string
	Speakers        int
	PollInterval    time.Duration
	PollTimeout     time.Duration
	HTTPTimeout     time.Duration
	CredentialsFile string
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	HTTPTimeout time.Duration
}

type SplitterConfig struct {
	MaxDuration time.Duration
	FFmpegPath  string
	FFprobePath string
}

type DBConfig struct {
	Driver string // sqlite | postgres
	DSN    string
}

// ArchiveConfig points at an S3-compatible bucket. Empty Endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	TopicCalls string
	Principal  string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           envOr("PORT", "8080"),
			ReadTimeout:    envDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   envDuration("HTTP_WRITE_TIMEOUT", 30*time.Minute),
			IdleTimeout:    envDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 512<<20),
		},
		STT: STTConfig{
			Provider:        strings.ToLower(envOr("STT_PROVIDER", "sarvam")),
			BaseURL:         envOr("SARVAM_BASE_URL", "https://api.sarvam.ai"),
			APIKey:          os.Getenv("SARVAM_API_KEY"),
			Model:           envOr("STT_MODEL", "saarika:v2.5"),
			LanguageCode:    envOr("STT_LANGUAGE_CODE", "en-IN"),
			Speakers:        envInt("STT_NUM_SPEAKERS", 2),
			PollInterval:    envDuration("STT_POLL_INTERVAL", 5*time.Second),
			PollTimeout:     envDuration("STT_POLL_TIMEOUT", 10*time.Minute),
			HTTPTimeout:     envDuration("STT_HTTP_TIMEOUT", 60*time.Second),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		LLM: LLMConfig{
			BaseURL:     envOr("LLM_BASE_URL", "https://api.sarvam.ai/v1"),
			APIKey:      firstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("SARVAM_API_KEY")),
			Model:       envOr("LLM_MODEL", "sarvam-m"),
			HTTPTimeout: envDuration("LLM_HTTP_TIMEOUT", 120*time.Second),
		},
		Splitter: SplitterConfig{
			MaxDuration: envDuration("SPLIT_MAX_DURATION", time.Hour),
			FFmpegPath:  envOr("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: envOr("FFPROBE_PATH", "ffprobe"),
		},
		DB: DBConfig{
			Driver: strings.ToLower(envOr("DB_DRIVER", "sqlite")),
			DSN:    envOr("DB_DSN", "file:qa_database.db"),
		},
		Archive: ArchiveConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("MINIO_SECRET_ACCESS_KEY"),
			Bucket:    envOr("MINIO_BUCKET_NAME", "call-qa"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Kafka: KafkaConfig{
			Enabled:    envBool("KAFKA_ENABLED", false),
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			TopicCalls: envOr("KAFKA_TOPIC_CALLS", "qa.call.processed"),
			Principal:  envOr("SERVICE_PRINCIPAL", "svc-call-qa"),
		},
		OutputDir: envOr("OUTPUT_DIR", "outputs"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func envInt64(k string, def int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(k), 10, 64); err == nil {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
