package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewLeveled("info")
)

// SetGlobalLogger 替换全局日志记录器，传入 nil 时恢复为 info 级别的控制台输出
func SetGlobalLogger(l Logger) {
	if l == nil {
		l = NewLeveled("info")
	}
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger 返回全局日志记录器
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// ParseLevel 解析文本形式的日志级别（debug/info/warn/error/off），大小写不敏感
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	}
	return LevelInfo, fmt.Errorf("未知的日志级别: %q", s)
}

// tags 各级别的输出前缀
var tags = [...]string{LevelDebug: "[DEBUG] ", LevelInfo: "[INFO] ", LevelWarn: "[WARN] ", LevelError: "[ERROR] "}

// ConsoleLogger 经标准库 log 输出到 stderr，低于 level 的日志被丢弃
type ConsoleLogger struct {
	level Level
}

// NewLeveled 按最低级别创建控制台日志记录器，无法识别的级别按 info 处理
func NewLeveled(level string) *ConsoleLogger {
	lv, _ := ParseLevel(level)
	return &ConsoleLogger{level: lv}
}

// Enabled 该级别的日志是否会输出
func (l *ConsoleLogger) Enabled(lv Level) bool { return lv >= l.level && lv < LevelOff }

func (l *ConsoleLogger) emit(lv Level, format string, args []interface{}) {
	if l.Enabled(lv) {
		log.Printf(tags[lv]+format, args...)
	}
}

func (l *ConsoleLogger) Debug(format string, args ...interface{}) { l.emit(LevelDebug, format, args) }
func (l *ConsoleLogger) Info(format string, args ...interface{})  { l.emit(LevelInfo, format, args) }
func (l *ConsoleLogger) Warn(format string, args ...interface{})  { l.emit(LevelWarn, format, args) }
func (l *ConsoleLogger) Error(format string, args ...interface{}) { l.emit(LevelError, format, args) }

type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	level  Level
}

// NewFileLogger 以追加方式打开日志文件
func NewFileLogger(filename string, level Level) (*FileLogger, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("无法打开日志文件 %s: %w", filename, err)
	}
	return &FileLogger{
		file:   file,
		logger: log.New(file, "", log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}, nil
}

func (l *FileLogger) printf(lv Level, format string, args []interface{}) {
	if lv < l.level || lv >= LevelOff {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.logger.Printf(tags[lv]+format, args...)
}

func (l *FileLogger) Debug(format string, args ...interface{}) { l.printf(LevelDebug, format, args) }
func (l *FileLogger) Info(format string, args ...interface{})  { l.printf(LevelInfo, format, args) }
func (l *FileLogger) Warn(format string, args ...interface{})  { l.printf(LevelWarn, format, args) }
func (l *FileLogger) Error(format string, args ...interface{}) { l.printf(LevelError, format, args) }

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// MultiLogger 把每条日志转发给全部下游
type MultiLogger struct{ loggers []Logger }

func NewMultiLogger(loggers ...Logger) *MultiLogger { return &MultiLogger{loggers: loggers} }

func (m *MultiLogger) each(fn func(Logger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) Debug(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Debug(format, args...) })
}
func (m *MultiLogger) Info(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Info(format, args...) })
}
func (m *MultiLogger) Warn(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Warn(format, args...) })
}
func (m *MultiLogger) Error(format string, args ...interface{}) {
	m.each(func(l Logger) { l.Error(format, args...) })
}
