package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "bintrader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("broker.driver", "paper")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.email", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.reconnect_attempts", 5)
	v.SetDefault("broker.reconnect_delay", "1s")
	v.SetDefault("broker.candle_attempts", 5)
	v.SetDefault("broker.candle_retry_delay", "1s")
	v.SetDefault("broker.payout_ttl", "60s")
	v.SetDefault("broker.default_payout", 80)
	v.SetDefault("broker.binary_buy_timeout", "6s")
	v.SetDefault("broker.digital_buy_timeout", "12s")
	v.SetDefault("broker.fast_window", "2s")
	v.SetDefault("broker.requests_per_second", 20)
	v.SetDefault("broker.request_timeout", "10s")
	v.SetDefault("broker.paper_seed", 42)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.min_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")

	v.SetDefault("engine.poll_interval", "100ms")
	v.SetDefault("engine.result_poll_interval", "1s")
	v.SetDefault("engine.result_wait_max", "5m")
	v.SetDefault("engine.gate_window", "2s")
	v.SetDefault("engine.precompute_lead", "2s")
	v.SetDefault("engine.stop_timeout", "10s")
	v.SetDefault("engine.error_backoff", "5s")

	v.SetDefault("database.path", "data/binary_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rate_limit", 20)
	v.SetDefault("api.burst", 50)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)

	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", 0)
	v.SetDefault("notify.buffer_size", 256)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
