// Package config 提供应用程序配置管理
// 基于viper实现配置文件加载、环境变量覆盖和默认值设置
// 涵盖服务器、数据库、日志、批量接入、缓存、分组和存储位置等配置项
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用程序总配置结构体
// 汇总所有子系统的配置项，由Load函数从配置文件和环境变量加载
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`   // HTTP服务器配置
	Database DatabaseConfig  `mapstructure:"database"` // 数据库配置
	Log      LogConfig       `mapstructure:"log"`      // 日志配置
	Ingest   IngestConfig    `mapstructure:"ingest"`   // 批量接入管道配置
	Cache    CacheConfig     `mapstructure:"cache"`    // 本地缓存配置
	Group    GroupConfig     `mapstructure:"group"`    // 请求分组配置
	Storages []StorageConfig `mapstructure:"storages"` // 存储位置配置列表
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Port         int `mapstructure:"port"`          // 监听端口
	ReadTimeout  int `mapstructure:"read_timeout"`  // 读取超时时间（秒）
	WriteTimeout int `mapstructure:"write_timeout"` // 写入超时时间（秒）
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`            // 数据库驱动类型，目前支持sqlite
	DSN             string `mapstructure:"dsn"`               // 数据源名称
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	MaxOpenConns    int    `mapstructure:"max_open_conns"`    // 最大打开连接数
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 连接最大生命周期（秒）
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`     // 日志级别 (debug, info, warn, error)
	Format   string `mapstructure:"format"`    // 日志格式 (json, text)
	Output   string `mapstructure:"output"`    // 输出方式 (console, file, both)
	FilePath string `mapstructure:"file_path"` // 日志文件路径
}

// IngestConfig 批量接入管道配置
// 控制每个租户的批量消费节奏和生产者背压行为
type IngestConfig struct {
	BulkSize           int `mapstructure:"bulk_size"`           // 单次批量处理的最大条目数
	DrainIntervalMs    int `mapstructure:"drain_interval_ms"`   // 批量消费周期（毫秒）
	BackpressureFactor int `mapstructure:"backpressure_factor"` // 背压高水位系数（BulkSize的倍数）
}

// CacheConfig 本地缓存配置
// 限制近线文件恢复缓存的容量并控制淘汰策略
type CacheConfig struct {
	Directory       string `mapstructure:"directory"`         // 缓存文件存放目录
	Capacity        int64  `mapstructure:"capacity"`          // 缓存总容量（字节）
	HighWatermark   int64  `mapstructure:"high_watermark"`    // 淘汰触发上限（字节）
	LowWatermark    int64  `mapstructure:"low_watermark"`     // 淘汰停止下限（字节）
	SweepIntervalS  int    `mapstructure:"sweep_interval_s"`  // 淘汰扫描周期（秒）
	ScheduleMs      int    `mapstructure:"schedule_ms"`       // 缓存恢复调度周期（毫秒）
	DefaultExpiryHr int    `mapstructure:"default_expiry_hr"` // 缓存文件默认过期时间（小时）
}

// GroupConfig 请求分组配置
type GroupConfig struct {
	MaxRequestsPerGroup int `mapstructure:"max_requests_per_group"` // 单个分组允许的最大文件数
}

// StorageConfig 存储位置配置
// 描述一个后端存储的驱动类型、层级和连接参数
// Provider支持：local（本地文件系统）、aliyun（阿里云OSS）、tencent（腾讯云COS）、qiniu（七牛云Kodo）
type StorageConfig struct {
	Name      string `mapstructure:"name"`       // 存储位置名称，全局唯一
	Provider  string `mapstructure:"provider"`   // 驱动类型
	Tier      string `mapstructure:"tier"`       // 存储层级：ONLINE（在线）、NEARLINE（近线）
	Priority  int    `mapstructure:"priority"`   // 优先级，数值越小越优先
	Active    bool   `mapstructure:"active"`     // 是否启用
	Capacity  int64  `mapstructure:"capacity"`   // 容量（字节），0表示不限制
	BaseDir   string `mapstructure:"base_dir"`   // 本地驱动的根目录
	Region    string `mapstructure:"region"`     // 云存储区域
	Bucket    string `mapstructure:"bucket"`     // 云存储桶名称
	AccessKey string `mapstructure:"access_key"` // 云存储访问密钥ID
	SecretKey string `mapstructure:"secret_key"` // 云存储访问密钥Secret
	Endpoint  string `mapstructure:"endpoint"`   // 自定义服务端点，可选
	MaxBatch  int    `mapstructure:"max_batch"`  // 单个作业子集的最大文件数，0表示不拆分
}

// Load 加载应用程序配置
// 依次读取config.yaml、环境变量（TIERVAULT_前缀），未设置项使用默认值
// 返回:
//
//	*Config - 加载完成的配置实例
//	error - 配置文件解析失败时返回错误
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TIERVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时仅使用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置各配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/tiervault.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file_path", "logs/tiervault.log")

	v.SetDefault("ingest.bulk_size", 100)
	v.SetDefault("ingest.drain_interval_ms", 500)
	v.SetDefault("ingest.backpressure_factor", 10)

	v.SetDefault("cache.directory", "data/cache")
	v.SetDefault("cache.capacity", int64(10*1024*1024*1024))
	v.SetDefault("cache.sweep_interval_s", 60)
	v.SetDefault("cache.schedule_ms", 1000)
	v.SetDefault("cache.default_expiry_hr", 24)

	v.SetDefault("group.max_requests_per_group", 2000)
}

// validate 校验配置的合法性
// 对水位线等存在约束关系的配置项进行检查和兜底
func validate(cfg *Config) error {
	if cfg.Ingest.BulkSize <= 0 {
		return fmt.Errorf("ingest.bulk_size must be positive, got %d", cfg.Ingest.BulkSize)
	}
	if cfg.Ingest.BackpressureFactor <= 0 {
		return fmt.Errorf("ingest.backpressure_factor must be positive, got %d", cfg.Ingest.BackpressureFactor)
	}
	if cfg.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must not be negative, got %d", cfg.Cache.Capacity)
	}
	// 未显式配置水位线时按容量推导
	if cfg.Cache.HighWatermark <= 0 || cfg.Cache.HighWatermark > cfg.Cache.Capacity {
		cfg.Cache.HighWatermark = cfg.Cache.Capacity * 9 / 10
	}
	if cfg.Cache.LowWatermark <= 0 || cfg.Cache.LowWatermark >= cfg.Cache.HighWatermark {
		cfg.Cache.LowWatermark = cfg.Cache.Capacity * 7 / 10
	}
	if cfg.Group.MaxRequestsPerGroup <= 0 {
		return fmt.Errorf("group.max_requests_per_group must be positive, got %d", cfg.Group.MaxRequestsPerGroup)
	}

	seen := make(map[string]bool)
	for _, sc := range cfg.Storages {
		if sc.Name == "" {
			return fmt.Errorf("storage config with empty name")
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate storage name: %s", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}
