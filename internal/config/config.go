package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = ":memory:"
	defaultDataDir    = "strand-data"
	defaultCatalogDir = "catalog"
	defaultWorkers    = 4
	defaultQueueSize  = 64
	defaultTimeoutS   = 600

	envListenAddr      = "STRAND_LISTEN_ADDR"
	envDBPath          = "STRAND_DB_PATH"
	envDataDir         = "STRAND_DATA_DIR"
	envCatalogDir      = "STRAND_CATALOG_DIR"
	envWorkers         = "STRAND_WORKERS"
	envQueueSize       = "STRAND_QUEUE_SIZE"
	envDefaultTimeoutS = "STRAND_DEFAULT_TIMEOUT_S"
	envLogLevel        = "STRAND_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	DataDir         string
	CatalogDir      string
	Workers         int
	QueueSize       int
	DefaultTimeoutS int
	LogLevel        slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
// The default DB path is ":memory:": job state is scoped to the process
// lifetime, and pointing STRAND_DB_PATH at a file opts into on-disk state.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		DataDir:         defaultDataDir,
		CatalogDir:      defaultCatalogDir,
		Workers:         defaultWorkers,
		QueueSize:       defaultQueueSize,
		DefaultTimeoutS: defaultTimeoutS,
		LogLevel:        slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envCatalogDir); v != "" {
		cfg.CatalogDir = v
	}
	if v := os.Getenv(envWorkers); v != "" {
		cfg.Workers = parsePositiveInt(v, defaultWorkers)
	}
	if v := os.Getenv(envQueueSize); v != "" {
		cfg.QueueSize = parsePositiveInt(v, defaultQueueSize)
	}
	if v := os.Getenv(envDefaultTimeoutS); v != "" {
		cfg.DefaultTimeoutS = parsePositiveInt(v, defaultTimeoutS)
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parsePositiveInt(s string, defaultVal int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
