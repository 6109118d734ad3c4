package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// loadEnvFiles loads nvprime.env next to the config file and .env in the
// working directory. Variables already in the environment are not overridden.
func loadEnvFiles(configPath string) {
	candidates := []string{
		filepath.Join(filepath.Dir(configPath), "nvprime.env"),
		".env",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load environment file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("Loaded environment variables", slog.String("path", path))
	}
}
