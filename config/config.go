// fetchbot/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	BotToken   string        `mapstructure:"BOT_TOKEN"`
	BotAPIURL  string        `mapstructure:"BOT_API_URL"`
	BotTimeout time.Duration `mapstructure:"BOT_TIMEOUT"`

	DownloadsDir   string `mapstructure:"DOWNLOADS_DIR"`
	YtdlpBin       string `mapstructure:"YTDLP_BIN"`
	YtdlpExtraArgs string `mapstructure:"YTDLP_EXTRA_ARGS"`
	FFprobeBin     string `mapstructure:"FFPROBE_BIN"`
	MaxFileSize    int64  `mapstructure:"MAX_FILE_SIZE"`

	PollInterval   time.Duration `mapstructure:"POLL_INTERVAL"`
	SendAttempts   int           `mapstructure:"SEND_ATTEMPTS"`
	SendCooldown   time.Duration `mapstructure:"SEND_COOLDOWN"`
	MaxConcurrency int           `mapstructure:"MAX_CONCURRENCY"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DBPath      string `mapstructure:"DB_PATH"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	APIEnable  bool   `mapstructure:"API_ENABLE"`
	Port       string `mapstructure:"PORT"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
}

// stringToDurationHookFunc parses Go duration strings such as "5s" or "6m".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes ("200MB", "1.5GB") into int64 bytes.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("BOT_TOKEN", "")
	vp.SetDefault("BOT_API_URL", "")
	vp.SetDefault("BOT_TIMEOUT", "6m")
	vp.SetDefault("DOWNLOADS_DIR", "/tmp/fetchbot-downloads")
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("YTDLP_EXTRA_ARGS", "")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("MAX_FILE_SIZE", int64(2_000_000_000))
	vp.SetDefault("POLL_INTERVAL", "5s")
	vp.SetDefault("SEND_ATTEMPTS", 10)
	vp.SetDefault("SEND_COOLDOWN", "10s")
	vp.SetDefault("MAX_CONCURRENCY", 4)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "0B")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("STORE_DRIVER", StoreSQLite)
	vp.SetDefault("DB_PATH", "fetchbot.db")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "text")
	vp.SetDefault("API_ENABLE", true)
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	vp.SetConfigName("fetchbot_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/fetchbot/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("FETCHBOT")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts the value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	case c.SendAttempts < 1:
		return fmt.Errorf("SEND_ATTEMPTS must be at least 1, got %d", c.SendAttempts)
	case c.SendCooldown < 0:
		return fmt.Errorf("SEND_COOLDOWN must not be negative, got %s", c.SendCooldown)
	case c.MaxConcurrency < 1:
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	case c.MaxFileSize <= 0:
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if c.StoreDriver != StoreSQLite && c.StoreDriver != StoreMemory {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}
