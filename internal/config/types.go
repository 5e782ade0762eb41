package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Broker   BrokerConfig    `mapstructure:"broker"`
	Retry    RetryConfig     `mapstructure:"retry"`
	Engine   EngineConfig    `mapstructure:"engine"`
	Database DatabaseConfig  `mapstructure:"database"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	API      APIConfig       `mapstructure:"api"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Notify   NotifyConfig    `mapstructure:"notify"`
	Sessions []SessionConfig `mapstructure:"sessions"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BrokerConfig 描述经纪商连接及容错参数。
type BrokerConfig struct {
	Driver            string        `mapstructure:"driver"` // paper | bridge
	URL               string        `mapstructure:"url"`
	Email             string        `mapstructure:"email"`
	Password          string        `mapstructure:"password"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	CandleAttempts    int           `mapstructure:"candle_attempts"`
	CandleRetryDelay  time.Duration `mapstructure:"candle_retry_delay"`
	PayoutTTL         time.Duration `mapstructure:"payout_ttl"`
	DefaultPayout     float64       `mapstructure:"default_payout"`
	BinaryBuyTimeout  time.Duration `mapstructure:"binary_buy_timeout"`
	DigitalBuyTimeout time.Duration `mapstructure:"digital_buy_timeout"`
	FastWindow        time.Duration `mapstructure:"fast_window"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PaperSeed         int64         `mapstructure:"paper_seed"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EngineConfig 控制会话主循环节奏。
type EngineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ResultPollInterval time.Duration `mapstructure:"result_poll_interval"`
	ResultWaitMax      time.Duration `mapstructure:"result_wait_max"`
	GateWindow         time.Duration `mapstructure:"gate_window"`
	PrecomputeLead     time.Duration `mapstructure:"precompute_lead"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// APIConfig 控制会话管理接口。
type APIConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// NotifyConfig 控制事件推送。
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	BufferSize     int    `mapstructure:"buffer_size"`
}

// SessionConfig 描述启动时自动运行的交易会话。
type SessionConfig struct {
	UserID              string             `mapstructure:"user_id"`
	Strategy            string             `mapstructure:"strategy"`
	Asset               string             `mapstructure:"asset"`
	AlternativeAsset    string             `mapstructure:"alternative_asset"`
	AccountMode         string             `mapstructure:"account_mode"`
	EntryValue          float64            `mapstructure:"entry_value"`
	StopWin             float64            `mapstructure:"stop_win"`
	StopLoss            float64            `mapstructure:"stop_loss"`
	MartingaleEnabled   bool               `mapstructure:"martingale_enabled"`
	MartingaleLevels    int                `mapstructure:"martingale_levels"`
	MartingaleFactor    float64            `mapstructure:"martingale_factor"`
	SorosEnabled        bool               `mapstructure:"soros_enabled"`
	SorosLevels         int                `mapstructure:"soros_levels"`
	OrderType           string             `mapstructure:"order_type"` // binary | digital | auto
	TrendPeriod         int                `mapstructure:"trend_period"`
	Filters             []string           `mapstructure:"confirmation_filters"`
	FilterThreshold     float64            `mapstructure:"confirmation_threshold"`
	FilterWeights       map[string]float64 `mapstructure:"filter_weights"`
	Params              map[string]float64 `mapstructure:"params"`
	CandlestickPatterns []string           `mapstructure:"candlestick_patterns"`
}

var knownStrategies = map[string]struct{}{
	"mhi": {}, "mhi_m5": {}, "twin_towers": {}, "rsi": {}, "macd": {},
	"moving_average": {}, "bollinger": {}, "engulfing": {}, "candlestick": {},
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch strings.ToLower(c.Broker.Driver) {
	case "paper":
	case "bridge":
		if c.Broker.URL == "" {
			err = multierr.Append(err, errors.New("broker.url 不能为空"))
		}
		if c.Broker.Email == "" || c.Broker.Password == "" {
			err = multierr.Append(err, errors.New("bridge 模式需要配置 broker.email 与 broker.password"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("broker.driver 不支持: %q", c.Broker.Driver))
	}
	if c.Broker.ReconnectAttempts <= 0 {
		err = multierr.Append(err, errors.New("broker.reconnect_attempts 必须大于0"))
	}
	if c.Broker.CandleAttempts <= 0 {
		err = multierr.Append(err, errors.New("broker.candle_attempts 必须大于0"))
	}
	if c.Broker.PayoutTTL <= 0 {
		err = multierr.Append(err, errors.New("broker.payout_ttl 必须大于0"))
	}
	if c.Broker.DefaultPayout <= 0 {
		err = multierr.Append(err, errors.New("broker.default_payout 必须大于0"))
	}
	if c.Broker.BinaryBuyTimeout <= 0 || c.Broker.DigitalBuyTimeout <= 0 {
		err = multierr.Append(err, errors.New("broker 下单超时必须为正"))
	}
	if c.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("retry.max_attempts 必须大于0"))
	}
	if c.Retry.MinDelay <= 0 || c.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("retry.delay 必须为正"))
	}
	if c.Retry.MinDelay > c.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("retry.min_delay 不能大于 max_delay"))
	}
	if c.Engine.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.poll_interval 必须大于0"))
	}
	if c.Engine.ResultPollInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.result_poll_interval 必须大于0"))
	}
	if c.Engine.ResultWaitMax < c.Engine.ResultPollInterval {
		err = multierr.Append(err, errors.New("engine.result_wait_max 不应小于 result_poll_interval"))
	}
	if c.Engine.GateWindow <= 0 {
		err = multierr.Append(err, errors.New("engine.gate_window 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		err = multierr.Append(err, errors.New("api.port 无效"))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		err = multierr.Append(err, errors.New("metrics.port 无效"))
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		err = multierr.Append(err, errors.New("notify.telegram_chat_id 不能为空"))
	}
	for i, s := range c.Sessions {
		err = multierr.Append(err, s.validate(fmt.Sprintf("sessions[%d]", i)))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// Validate 校验单个会话配置，用于运行期启动的会话。
func (s SessionConfig) Validate() error {
	if err := s.validate("session"); err != nil {
		return fmt.Errorf("会话配置无效: %w", err)
	}
	return nil
}

func (s SessionConfig) validate(prefix string) error {
	var err error

	if s.UserID == "" {
		err = multierr.Append(err, fmt.Errorf("%s.user_id 不能为空", prefix))
	}
	if _, ok := knownStrategies[strings.ToLower(s.Strategy)]; !ok {
		err = multierr.Append(err, fmt.Errorf("%s.strategy 未知: %q", prefix, s.Strategy))
	}
	if s.Asset == "" {
		err = multierr.Append(err, fmt.Errorf("%s.asset 不能为空", prefix))
	}
	if s.EntryValue <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.entry_value 必须大于0", prefix))
	}
	if s.MartingaleEnabled {
		if s.MartingaleLevels < 0 {
			err = multierr.Append(err, fmt.Errorf("%s.martingale_levels 不能为负", prefix))
		}
		if s.MartingaleFactor <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s.martingale_factor 必须大于0", prefix))
		}
	}
	if s.SorosEnabled && s.SorosLevels <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.soros_levels 必须大于0", prefix))
	}
	switch strings.ToLower(s.AccountMode) {
	case "", "practice", "real":
	default:
		err = multierr.Append(err, fmt.Errorf("%s.account_mode 无效: %q", prefix, s.AccountMode))
	}
	switch strings.ToLower(s.OrderType) {
	case "", "binary", "digital", "auto":
	default:
		err = multierr.Append(err, fmt.Errorf("%s.order_type 无效: %q", prefix, s.OrderType))
	}
	if s.FilterThreshold < 0 || s.FilterThreshold > 1 {
		err = multierr.Append(err, fmt.Errorf("%s.confirmation_threshold 必须位于[0,1]", prefix))
	}

	return err
}
