package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Конфигурация процесса бота. Настройки бронирования (лимиты, сроки,
// список админов) живут в data/config.json и меняются во время работы,
// здесь только то, что нужно для запуска.
type Config struct {
	Telegram struct {
		Token       string `mapstructure:"token"`
		Debug       bool   `mapstructure:"debug"`
		PollTimeout int    `mapstructure:"poll_timeout"` // секунды long polling
	} `mapstructure:"telegram"`

	Storage struct {
		DataDir string `mapstructure:"data_dir"`
	} `mapstructure:"storage"`

	Booking struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0: только «ленивая» очистка
	} `mapstructure:"booking"`

	HTTP struct {
		Address    string `mapstructure:"address"`
		Port       string `mapstructure:"port"`        // пусто: HTTP не поднимаем
		AdminToken string `mapstructure:"admin_token"` // пусто: /admin выключен
	} `mapstructure:"http"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql" | "" (без зеркала истории)
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`
}

// Load читает конфиг из .env, env и файла с дефолтами.
func Load() (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "devbook"))
		}
		v.AddConfigPath("/etc/devbook")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.poll_timeout", 60)

	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("booking.sweep_interval", "1m")

	v.SetDefault("http.address", "0.0.0.0")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.admin_token", "")

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token must be set")
	}
	if c.Telegram.PollTimeout <= 0 {
		return errors.New("telegram.poll_timeout must be positive")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("storage.data_dir must not be empty")
	}
	if c.Booking.SweepInterval < 0 {
		return errors.New("booking.sweep_interval must not be negative")
	}
	switch c.Database.Driver {
	case "", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database.driver: %s", c.Database.Driver)
	}
	if c.Database.Driver != "" && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn must be set when database.driver is set")
	}
	return nil
}
