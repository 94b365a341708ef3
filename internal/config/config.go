package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	DataPath    string
	DBPath      string
	ScratchPath string
	JWTSecret   string
	CORSOrigins []string

	// Remote audio extraction endpoint (Cobalt-compatible)
	CobaltURL string

	// Pipeline bounds. Every suspend point gets an independent timeout and
	// every retryable failure a bounded attempt budget.
	MaxConcurrentJobs int64
	MaxUploadBytes    int64
	MaxDownloadBytes  int64
	MaxMediaSeconds   float64
	ProviderRetries   int
	PersistRetries    int
	RetryBackoff      time.Duration
	ResolveTimeout    time.Duration
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	SaveTimeout       time.Duration
}

func Load() *Config {
	port, _ := strconv.Atoi(getEnv("PORT", "8080"))
	dataPath := getEnv("DATA_PATH", "/data")

	// JWT secret: require explicit setting or generate random
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Failed to generate random JWT secret: %v", err)
		}
		jwtSecret = hex.EncodeToString(b)
		log.Println("WARNING: JWT_SECRET not set, using random secret. Sessions will not survive restarts. Set JWT_SECRET env var for persistent sessions.")
	}

	// CORS origins: comma-separated list or "*" (default)
	corsOrigins := []string{"*"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		corsOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		Port:        port,
		DataPath:    dataPath,
		DBPath:      getEnv("DB_PATH", dataPath+"/cognistream.db"),
		ScratchPath: getEnv("SCRATCH_PATH", dataPath+"/scratch"),
		JWTSecret:   jwtSecret,
		CORSOrigins: corsOrigins,

		CobaltURL: getEnv("COBALT_URL", "https://api.cobalt.tools/api/json"),

		MaxConcurrentJobs: getEnvInt64("MAX_CONCURRENT_JOBS", 4),
		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", 100<<20),
		MaxDownloadBytes:  getEnvInt64("MAX_DOWNLOAD_BYTES", 250<<20),
		MaxMediaSeconds:   4 * 3600,
		ProviderRetries:   3,
		PersistRetries:    2,
		RetryBackoff:      2 * time.Second,
		ResolveTimeout:    5 * time.Minute,
		TranscribeTimeout: 15 * time.Minute,
		SummarizeTimeout:  5 * time.Minute,
		SaveTimeout:       30 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
