package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	LogFile     string
	APIToken    string
	Seed        uint64 // 0 seeds from the clock
	Output      string
	StateDir    string
	BatchSize   int
}

func Load() Config {
	return Config{
		Port:        envInt("LOOM_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		LogFile:     envStr("LOG_FILE", ""),
		APIToken:    envStr("LOOM_API_TOKEN", ""),
		Seed:        envUint64("LOOM_SEED", 0),
		Output:      envStr("LOOM_OUTPUT", "episodes.jsonl"),
		StateDir:    envStr("LOOM_STATE_DIR", "~/.loom"),
		BatchSize:   envInt("LOOM_BATCH_SIZE", 100),
	}
}

// LoadDotEnv merges the given .env file into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint64(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
