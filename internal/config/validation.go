package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置进入运行期。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if strings.TrimSpace(c.CacheDir) == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if strings.TrimSpace(c.UploadTmpDir) == "" {
		return newFieldError("UploadTmpDir", "不能为空")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", "无法识别的日志级别")
	}
	if c.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if c.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.ChunkSize <= 0 {
		return newFieldError("ChunkSize", "必须大于 0")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.S3Endpoint != "" {
		if err := validateEndpoint(c.S3Endpoint); err != nil {
			return newFieldError("S3Endpoint", err.Error())
		}
	}
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return newFieldError("S3AccessKeyID/S3SecretAccessKey", "必须同时提供或同时留空")
	}
	if c.S3Anonymous && c.S3Profile != "" {
		return newFieldError("S3Anonymous/S3Profile", "不能同时指定")
	}
	return nil
}

func validateEndpoint(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
