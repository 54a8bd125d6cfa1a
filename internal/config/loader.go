package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultChunkSize  = 32 * 1024
	defaultListenPort = 5080
)

// envBindings 将配置字段映射到 CLOUDIO_* 环境变量。
var envBindings = map[string]string{
	"CacheDir":          "CLOUDIO_CACHE_DIR",
	"UploadTmpDir":      "CLOUDIO_UPLOAD_TMP_DIR",
	"S3Profile":         "CLOUDIO_S3_PROFILE",
	"S3Region":          "CLOUDIO_S3_REGION",
	"S3Endpoint":        "CLOUDIO_S3_ENDPOINT",
	"S3AccessKeyID":     "CLOUDIO_S3_ACCESS_KEY_ID",
	"S3SecretAccessKey": "CLOUDIO_S3_SECRET_ACCESS_KEY",
	"LogLevel":          "CLOUDIO_LOG_LEVEL",
	"LogFilePath":       "CLOUDIO_LOG_FILE",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量与校验逻辑。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.absolutize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置，适合作为库直接使用。
func Default() Config {
	cfg := Config{
		CacheDir:        defaultDir("cache"),
		UploadTmpDir:    defaultDir("upload_tmp"),
		LogLevel:        "info",
		LogMaxSize:      100,
		LogMaxBackups:   10,
		LogCompress:     true,
		MaxRetries:      5,
		InitialBackoff:  Duration(time.Second),
		UpstreamTimeout: Duration(30 * time.Second),
		ChunkSize:       defaultChunkSize,
		ListenPort:      defaultListenPort,
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("CacheDir", def.CacheDir)
	v.SetDefault("UploadTmpDir", def.UploadTmpDir)
	v.SetDefault("S3Profile", "")
	v.SetDefault("S3Region", "")
	v.SetDefault("S3Endpoint", "")
	v.SetDefault("S3ForcePathStyle", false)
	v.SetDefault("S3Anonymous", false)
	v.SetDefault("S3AccessKeyID", "")
	v.SetDefault("S3SecretAccessKey", "")
	v.SetDefault("LogLevel", def.LogLevel)
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", def.LogMaxSize)
	v.SetDefault("LogMaxBackups", def.LogMaxBackups)
	v.SetDefault("LogCompress", def.LogCompress)
	v.SetDefault("MaxRetries", def.MaxRetries)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ChunkSize", def.ChunkSize)
	v.SetDefault("ListenPort", def.ListenPort)
}

func applyDefaults(c *Config) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.InitialBackoff.DurationValue() == 0 {
		c.InitialBackoff = Duration(time.Second)
	}
	if c.UpstreamTimeout.DurationValue() == 0 {
		c.UpstreamTimeout = Duration(30 * time.Second)
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ListenPort == 0 {
		c.ListenPort = defaultListenPort
	}
}

func (c *Config) absolutize() error {
	cacheDir, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	tmpDir, err := filepath.Abs(c.UploadTmpDir)
	if err != nil {
		return fmt.Errorf("无法解析上传暂存目录: %w", err)
	}
	c.CacheDir = cacheDir
	c.UploadTmpDir = tmpDir
	return nil
}

func defaultDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cloudio", name)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
