// Package logging 定义缓存镜像的日志约定：每条日志都带 action 判别字段，
// JSON 输出；下载进度这类高频事件只在 debug 级别出现，避免一次大文件
// 传输刷掉有用的记录。日志通道不可用时镜像必须照常服务，所以这里的
// 降级从不返回错误。
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/blobmirror/blobmirror/internal/config"
)

// New 构建服务全局 logger。未配置 LOG_FILE 时写 stdout；配置后经
// lumberjack 轮转写文件，文件目录不可用时降级回 stdout 并留下一条 warn。
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", cfg.Level, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.SetOutput(os.Stdout)

	if cfg.File == "" {
		return logger, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.File,
		}).Warn("log file unavailable, staying on stdout")
		return logger, nil
	}

	logger.SetOutput(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	})
	return logger, nil
}
