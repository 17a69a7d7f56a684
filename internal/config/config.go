package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	NodeID   string
	HTTPPort int
	Debug    bool

	DataDir   string
	WorkDir   string
	Ephemeral bool

	RendererImage    string
	RendererMemoryMB int64
	StopGrace        time.Duration
	LogTailLines     int

	StreamCloseGrace time.Duration
	DefaultPageSize  int
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "./data")
	return &Config{
		NodeID:           getEnv("NODE_ID", "previewd"),
		HTTPPort:         getEnvInt("HTTP_PORT", 8000),
		Debug:            getEnvBool("DEBUG", false),
		DataDir:          dataDir,
		WorkDir:          getEnv("WORK_DIR", filepath.Join(dataDir, "jobs")),
		Ephemeral:        getEnvBool("EPHEMERAL", false),
		RendererImage:    getEnv("RENDERER_IMAGE", "overlayforge/renderer:latest"),
		RendererMemoryMB: int64(getEnvInt("RENDERER_MEMORY_MB", 512)),
		StopGrace:        time.Duration(getEnvInt("STOP_GRACE_SECONDS", 10)) * time.Second,
		LogTailLines:     getEnvInt("LOG_TAIL_LINES", 20),
		StreamCloseGrace: time.Duration(getEnvInt("STREAM_CLOSE_GRACE_MS", 500)) * time.Millisecond,
		DefaultPageSize:  getEnvInt("DEFAULT_PAGE_SIZE", 20),
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
