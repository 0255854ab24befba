package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 把日志写进文件
// 调试器和被调试脚本共用stdout，日志绝不能往stdout打
func SetupLogger(logPath string) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		// 打不开日志文件就改写到stderr，不能影响调试
		logrus.SetOutput(os.Stderr)
		return
	}
	logFile = file
	logrus.SetOutput(file)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
