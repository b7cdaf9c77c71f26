package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	BackendURL      string        `mapstructure:"backend_url"`
	FeedURL         string        `mapstructure:"feed_url"`
	DebugPort       int           `mapstructure:"debug_port"`
	PageSize        int           `mapstructure:"page_size"`
	DecayInterval   time.Duration `mapstructure:"decay_interval"`
	ActivityTimeout time.Duration `mapstructure:"activity_timeout"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("backend_url", "http://localhost:8080")
	v.SetDefault("feed_url", "ws://localhost:8080/api/ws/updates")
	v.SetDefault("debug_port", 8090)
	v.SetDefault("page_size", 50)
	v.SetDefault("decay_interval", "10s")
	v.SetDefault("activity_timeout", "60s")
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Backend: %s | Debug port: %d\n", cfg.Mode, cfg.BackendURL, cfg.DebugPort)
	return &cfg, nil
}
