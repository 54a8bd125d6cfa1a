package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 是 TOML 文件映射的整体结构。mapstructure 标签对应配置文件字段，
// key 标签对应运行时覆盖（Runtime.Push/With）使用的小写键名。
type Config struct {
	CacheDir     string `mapstructure:"CacheDir" key:"cache_dir"`
	UploadTmpDir string `mapstructure:"UploadTmpDir" key:"upload_tmp_dir"`

	S3Profile        string `mapstructure:"S3Profile" key:"s3_profile"`
	S3Region         string `mapstructure:"S3Region" key:"s3_region"`
	S3Endpoint       string `mapstructure:"S3Endpoint" key:"s3_endpoint"`
	S3ForcePathStyle bool   `mapstructure:"S3ForcePathStyle" key:"s3_force_path_style"`
	S3Anonymous      bool   `mapstructure:"S3Anonymous" key:"s3_anonymous"`

	S3AccessKeyID     string `mapstructure:"S3AccessKeyID" key:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"S3SecretAccessKey" key:"s3_secret_access_key"`

	LogLevel      string `mapstructure:"LogLevel" key:"log_level"`
	LogFilePath   string `mapstructure:"LogFilePath" key:"log_file_path"`
	LogMaxSize    int    `mapstructure:"LogMaxSize" key:"log_max_size"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups" key:"log_max_backups"`
	LogCompress   bool   `mapstructure:"LogCompress" key:"log_compress"`

	MaxRetries      int      `mapstructure:"MaxRetries" key:"max_retries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff" key:"initial_backoff"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout" key:"upstream_timeout"`
	ChunkSize       int      `mapstructure:"ChunkSize" key:"chunk_size"`

	ListenPort int `mapstructure:"ListenPort" key:"listen_port"`
}

// S3Mode 输出 `anonymous`、`static`、`profile:<name>` 或 `default`，供日志字段使用。
func (c Config) S3Mode() string {
	switch {
	case c.S3Anonymous:
		return "anonymous"
	case c.S3AccessKeyID != "":
		return "static"
	case c.S3Profile != "":
		return "profile:" + c.S3Profile
	default:
		return "default"
	}
}
