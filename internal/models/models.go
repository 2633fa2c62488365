package models

// Config 定义了整个程序的配置
type Config struct {
	LogConfig          LogConfig       `json:"log" yaml:"log"`                                       // 日志配置
	Storage            StorageConfig   `json:"storage" yaml:"storage"`                               // 活动日志的持久化配置
	Binance            BinanceConfig   `json:"binance" yaml:"binance"`                               // 币安接入配置
	MetricsAddr        string          `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"` // Prometheus监听地址, 为空则不启动
	ShutdownTimeoutSec int             `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`     // 退出时等待机器人停止的最长时间(秒)
	SoftShutdown       bool            `json:"soft_shutdown" yaml:"soft_shutdown"`                   // 退出时是否软停止(清空卖单后再退出)
	EventBufferSize    int             `json:"event_buffer_size" yaml:"event_buffer_size"`           // 活动日志通道的缓冲大小
	StatusIntervalSec  int             `json:"status_interval_sec" yaml:"status_interval_sec"`       // 状态表输出间隔(秒)
	Accounts           []AccountConfig `json:"accounts" yaml:"accounts"`                             // 用户账户
	Bots               []BotSpec       `json:"bots" yaml:"bots"`                                     // 启动时运行的机器人
	Backtest           BacktestConfig  `json:"backtest,omitempty" yaml:"backtest,omitempty"`         // 回测配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// StorageConfig 定义了活动日志写入的目标存储
type StorageConfig struct {
	Driver             string `json:"driver" yaml:"driver"`                               // "postgres", "sqlite" 或 "badger"
	DSN                string `json:"dsn,omitempty" yaml:"dsn,omitempty"`                 // SQL连接串 (postgres/sqlite)
	Path               string `json:"path,omitempty" yaml:"path,omitempty"`               // badger数据目录
	MaxOpenConns       int    `json:"max_open_conns" yaml:"max_open_conns"`               // 连接池最大连接数
	MaxIdleConns       int    `json:"max_idle_conns" yaml:"max_idle_conns"`               // 连接池最大空闲连接数
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" yaml:"conn_max_lifetime_sec"` // 连接最长存活时间(秒)
	WriteTimeoutSec    int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`         // 单次写入的超时时间(秒)
}

// BinanceConfig 定义了币安REST与WebSocket的接入参数
type BinanceConfig struct {
	BaseURL           string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // REST API基础地址, 为空则使用go-binance默认值
	WSBaseURL         string  `json:"ws_base_url,omitempty" yaml:"ws_base_url,omitempty"` // WebSocket基础地址
	UseStream         bool    `json:"use_stream" yaml:"use_stream"`                       // 是否通过WebSocket缓存行情
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`     // 每个账户的REST请求速率上限
	Burst             int     `json:"burst" yaml:"burst"`                                 // 速率限制的突发容量
}

// AccountConfig 描述一个用户在某个平台上的凭证来源
type AccountConfig struct {
	UserEmail    string `json:"user_email" yaml:"user_email"`
	UserID       int64  `json:"user_id" yaml:"user_id"`
	Platform     string `json:"platform" yaml:"platform"`                                 // "binance" 或 "paper"
	APIKeyEnv    string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`       // 存放API Key的环境变量名
	SecretKeyEnv string `json:"secret_key_env,omitempty" yaml:"secret_key_env,omitempty"` // 存放Secret Key的环境变量名
}

// BacktestConfig 定义了回测模式使用的参数
type BacktestConfig struct {
	FeeRate     float64    `json:"fee_rate" yaml:"fee_rate"`         // 市价单手续费率
	InitialCash float64    `json:"initial_cash" yaml:"initial_cash"` // 初始资金 (USDT)
	Grid        GridParams `json:"grid" yaml:"grid"`                 // 回测使用的网格参数
}
