package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	ModelPath string
	Port      string
	LogLevel  slog.Level
}

func Load() (*Config, error) {
	model := os.Getenv("ENTITYQL_MODEL")
	if model == "" {
		model = "model.yaml"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	level, err := parseLevel(os.Getenv("ENTITYQL_LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	return &Config{
		ModelPath: model,
		Port:      port,
		LogLevel:  level,
	}, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("ENTITYQL_LOG_LEVEL: %w", err)
	}
	return level, nil
}
