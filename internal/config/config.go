// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all engine configuration.
type Config struct {
	// Control plane
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Local state (password file, sync queue, media library)
	DataDir string

	// FTP
	FTPPort      int
	FTPPasvRange string

	// Remote catalog API
	CatalogURL string

	// S3 object store
	S3Endpoint   string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	UploadFolder string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOr("LISTEN_ADDR", "127.0.0.1:8080"),
		MetricsAddr:  envOr("METRICS_ADDR", "127.0.0.1:9090"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
		DataDir:      envOr("DATA_DIR", defaultDataDir()),
		FTPPort:      envInt("FTP_PORT", 2121),
		FTPPasvRange: envOr("FTP_PASV_RANGE", "8000-9000"),
		CatalogURL:   envOr("CATALOG_URL", "https://backend-google-three.vercel.app"),
		S3Endpoint:   envOr("S3_ENDPOINT", ""),
		S3Bucket:     envOr("S3_BUCKET", ""),
		S3AccessKey:  envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:  envOr("S3_SECRET_KEY", ""),
		S3Region:     envOr("S3_REGION", "us-east-1"),
		S3UseSSL:     envBool("S3_USE_SSL", true),
		UploadFolder: envOr("UPLOAD_FOLDER", "albums"),
	}

	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.FTPPort <= 0 || cfg.FTPPort > 65535 {
		return nil, fmt.Errorf("FTP_PORT out of range: %d", cfg.FTPPort)
	}

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shutterlink"
	}
	return filepath.Join(home, ".shutterlink")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
