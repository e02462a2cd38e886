package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Order submitted", zap.String("code", code))
var Logger *zap.Logger

// InitLogger 初始化 Zap 日志。logFile 非空时同时写入文件，
// 便于无人值守运行后次日早晨复盘。
func InitLogger(logFile string) {
	config := zap.NewProductionConfig()

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	if logFile != "" {
		config.OutputPaths = []string{"stdout", logFile}
	}

	var err error
	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}
