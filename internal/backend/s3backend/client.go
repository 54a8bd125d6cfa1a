package s3backend

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/config"
)

// NewClient 根据配置创建 S3 客户端：可选 profile、region、endpoint；
// 显式要求匿名或无法解析任何凭证时退回匿名（不签名）访问。
func NewClient(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.S3Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config (profile %q): %w", cfg.S3Profile, err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	// 显式凭证优先于 profile 与环境中的默认凭证链。
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)
	}

	if cfg.S3Anonymous || !hasCredentials(ctx, awsCfg) {
		if logger != nil && !cfg.S3Anonymous {
			logger.WithField("action", "s3_client").Info("no aws credentials found, using anonymous access")
		}
		awsCfg.Credentials = aws.AnonymousCredentials{}
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

func hasCredentials(ctx context.Context, awsCfg aws.Config) bool {
	if awsCfg.Credentials == nil {
		return false
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}
