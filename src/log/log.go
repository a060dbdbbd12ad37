package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yuhaohwang/danmubot/src/configs"
	"github.com/yuhaohwang/danmubot/src/instance"
	"github.com/yuhaohwang/danmubot/src/interfaces"
)

const lastLogName = "danmubot.log"

// New 根据实例中的配置创建日志记录器，并挂到实例上。
func New(ctx context.Context) *interfaces.Logger {
	inst := instance.GetInstance(ctx)
	logger, err := NewWithConfig(inst.Config, time.Now())
	if err != nil {
		// 日志文件打不开时仍然输出到标准错误
		fmt.Fprintf(os.Stderr, "初始化日志文件失败: %s\n", err)
	}
	inst.Logger = logger
	return logger
}

// NewWithConfig 创建日志记录器。返回的错误只表示日志文件不可用，logger 始终可用。
func NewWithConfig(config *configs.Config, now time.Time) (*interfaces.Logger, error) {
	logLevel := logrus.InfoLevel
	if config.Debug {
		logLevel = logrus.DebugLevel
	}

	writers := []io.Writer{os.Stderr}
	files, err := openLogFiles(config.Log, now)
	writers = append(writers, files...)

	logger := &interfaces.Logger{Logger: &logrus.Logger{
		Out: io.MultiWriter(writers...),
		Formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLevel,
	}}
	return logger, err
}

// openLogFiles 按配置打开日志文件，输出目录不存在时自动创建。
func openLogFiles(cfg configs.Log, now time.Time) ([]io.Writer, error) {
	if !cfg.SaveEveryLog && !cfg.SaveLastLog {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.OutPutFolder, 0755); err != nil {
		return nil, fmt.Errorf("无法创建日志输出文件夹 %s: %w", cfg.OutPutFolder, err)
	}

	writers := make([]io.Writer, 0, 2)
	if cfg.SaveEveryLog {
		location := filepath.Join(cfg.OutPutFolder, now.Format("startup-2006-01-02-15-04-05")+".log")
		f, err := os.OpenFile(location, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return writers, fmt.Errorf("无法打开日志文件 %s: %w", location, err)
		}
		writers = append(writers, f)
	}
	if cfg.SaveLastLog {
		location := filepath.Join(cfg.OutPutFolder, lastLogName)
		f, err := os.OpenFile(location, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return writers, fmt.Errorf("无法打开默认日志文件 %s: %w", location, err)
		}
		writers = append(writers, f)
	}
	return writers, nil
}
