package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/blobmirror/blobmirror/internal/blobstore"
	"github.com/blobmirror/blobmirror/internal/cache"
	"github.com/blobmirror/blobmirror/internal/config"
	"github.com/blobmirror/blobmirror/internal/logging"
	"github.com/blobmirror/blobmirror/internal/server"
	"github.com/blobmirror/blobmirror/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

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
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config")
		fields["primary"] = cfg.Primary
		fields["cache_path"] = cfg.CachePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("configuration ok")
		return 0
	}

	store, err := blobstore.Dial(cfg.Primary)
	if err != nil {
		fmt.Fprintf(stdErr, "连接远端存储失败: %v\n", err)
		return 1
	}

	engine, err := cache.New(cache.Options{
		Store:       store,
		Dir:         cfg.CachePath,
		MaxSize:     cfg.MaxSize.Bytes(),
		MaxNotFound: int(cfg.MaxNotFound.Bytes()),
		Validity:    cfg.CacheTime.Duration(),
		KeepForever: cfg.KeepForeverPattern,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Cache:  engine,
		Config: cfg,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup")
	fields["listen"] = cfg.Listen
	fields["primary"] = cfg.Primary
	fields["cache_time"] = cfg.CacheTime.Duration().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(app, engine, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 运行监听循环并在收到信号后优雅收尾：先停 HTTP，再关缓存。
func serve(app *fiber.App, engine *cache.Cache, cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return app.Listen(cfg.Listen)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.WithField("action", "shutdown").Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("http shutdown failed")
		}
		return engine.Close()
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// parseCLIFlags 解析 CLI 参数；全部运行配置均来自环境变量。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("blobmirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		checkOnly bool
		showVer   bool
	)

	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
