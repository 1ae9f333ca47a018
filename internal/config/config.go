package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type AIConfig struct {
	Model        string        `mapstructure:"model"`
	APIKeyEnv    string        `mapstructure:"api_key_env"`
	TriggerToken string        `mapstructure:"trigger_token"`
	OpenWait     time.Duration `mapstructure:"open_wait"`
}

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
	DBPath          string        `mapstructure:"db_path"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	QueuePrefix     string        `mapstructure:"queue_prefix"`
	AI              AIConfig      `mapstructure:"ai"`
}

// APIKey resolves the AI endpoint key from the configured environment
// variable so the key itself never lands in a config file.
func (c *Config) APIKey() string {
	return os.Getenv(c.AI.APIKeyEnv)
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
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("snapshot_timeout", "5s")
	v.SetDefault("db_path", "./data/relay.db")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("queue_prefix", "scoutrelay:")
	v.SetDefault("ai.model", "gemini-2.0-flash-live-001")
	v.SetDefault("ai.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("ai.trigger_token", "[INTERVENTION]")
	v.SetDefault("ai.open_wait", "250ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Model: %s\n", cfg.Mode, cfg.Port, cfg.AI.Model)
	return &cfg, nil
}
