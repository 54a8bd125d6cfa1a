package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"github.com/cloudio/cloudio/internal/config"
	"github.com/cloudio/cloudio/internal/logging"
	"github.com/cloudio/cloudio/internal/metrics"
	"github.com/cloudio/cloudio/internal/server"
	"github.com/cloudio/cloudio/internal/server/routes"
	"github.com/cloudio/cloudio/internal/version"
	"github.com/cloudio/cloudio/pkg/cloudio"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	command     string
	args        []string
}

var (
	stdIn  io.Reader = os.Stdin
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const usage = `usage: cloudio [-config file] [-check-config] [-version] <command> [args]

commands:
  get <url|path>            print the local path of the cached copy
  cat <url|path>            write the content to stdout
  put <url> [local|-]       upload a local file or directory, or stdin
  rm <url>                  remove every object under an s3 prefix
  origin <cache-key>        print the url and etag a cache entry came from
  serve                     run the HTTP sidecar on ListenPort`

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(*cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_dir"] = cfg.CacheDir
		fields["upload_tmp_dir"] = cfg.UploadTmpDir
		fields["s3_mode"] = cfg.S3Mode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.command == "" {
		fmt.Fprintln(stdErr, usage)
		return 2
	}

	m := metrics.New()
	client := cloudio.New(config.NewRuntime(*cfg),
		cloudio.WithLogger(logger),
		cloudio.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fields := logging.BaseFields(opts.command, opts.configPath)
	fields["version"] = version.Full()
	fields["s3_mode"] = cfg.S3Mode()
	logger.WithFields(fields).Debug("配置加载完成")

	if opts.command == "serve" {
		if err := startHTTPServer(*cfg, client, m, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	return runCommand(ctx, client, opts.command, opts.args)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cloudio", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 CLOUDIO_CONFIG 覆盖，缺省时仅使用默认值与环境变量）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CLOUDIO_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	opts := cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}
	if rest := fs.Args(); len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}
	return opts, nil
}

func startHTTPServer(cfg config.Config, client *cloudio.Client, m *metrics.Metrics, logger *logrus.Logger) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Objects:    client,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, routes.Diagnostics{
		Objects: client,
		Metrics: m.Handler(),
		Schemes: client.Backends().Schemes(),
		CacheDir: func() string {
			return client.Runtime().Current().CacheDir
		},
	})

	logger.WithFields(logrus.Fields{
		"action":    "listen",
		"port":      port,
		"cache_dir": cfg.CacheDir,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
