package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"off", LevelOff, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewLeveled(t *testing.T) {
	l := NewLeveled("warn")
	if l.Enabled(LevelDebug) || l.Enabled(LevelInfo) {
		t.Error("warn 级别不应输出 debug/info")
	}
	if !l.Enabled(LevelWarn) || !l.Enabled(LevelError) {
		t.Error("warn 级别应输出 warn/error")
	}
	if off := NewLeveled("off"); off.Enabled(LevelError) {
		t.Error("off 级别不应输出任何日志")
	}
}

// TestMultiLoggerFansOut 每条日志写入全部下游，各自按级别过滤
func TestMultiLoggerFansOut(t *testing.T) {
	dir := t.TempDir()
	debugPath, errorPath := filepath.Join(dir, "debug.log"), filepath.Join(dir, "error.log")
	dl, err := NewFileLogger(debugPath, LevelDebug)
	if err != nil {
		t.Fatal(err)
	}
	el, err := NewFileLogger(errorPath, LevelError)
	if err != nil {
		t.Fatal(err)
	}
	ml := NewMultiLogger(dl, el, &NopLogger{})
	ml.Debug("瓦片 %s 请求", "r1/")
	ml.Error("分配失败")
	dl.Close()
	el.Close()

	d, _ := os.ReadFile(debugPath)
	e, _ := os.ReadFile(errorPath)
	if !strings.Contains(string(d), "[DEBUG] 瓦片 r1/ 请求") || !strings.Contains(string(d), "[ERROR] 分配失败") {
		t.Errorf("debug 文件内容 = %q", d)
	}
	if strings.Contains(string(e), "DEBUG") || !strings.Contains(string(e), "[ERROR] 分配失败") {
		t.Errorf("error 文件内容 = %q", e)
	}
}

func TestSetGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	nop := &NopLogger{}
	SetGlobalLogger(nop)
	if GetGlobalLogger() != Logger(nop) || OrGlobal(nil) != Logger(nop) {
		t.Error("全局日志记录器未替换")
	}
	SetGlobalLogger(nil)
	if _, ok := GetGlobalLogger().(*ConsoleLogger); !ok {
		t.Errorf("传入 nil 应恢复控制台日志, got %T", GetGlobalLogger())
	}
}

func TestFileLoggerFiltersLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "globe.log")
	fl, err := NewFileLogger(path, LevelWarn)
	if err != nil {
		t.Fatalf("创建文件日志失败: %v", err)
	}
	fl.Info("忽略 %d", 1)
	fl.Warn("瓦片 %s 加载失败", "r0/12")
	if err := fl.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	// 关闭后写入不应 panic
	fl.Error("closed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志失败: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "忽略") {
		t.Errorf("info 日志不应写入: %q", s)
	}
	if !strings.Contains(s, "[WARN] 瓦片 r0/12 加载失败") {
		t.Errorf("缺少 warn 日志: %q", s)
	}
}

func TestOrGlobal(t *testing.T) {
	nop := &NopLogger{}
	if OrGlobal(nop) != Logger(nop) {
		t.Error("非空日志记录器应原样返回")
	}
	if OrGlobal(nil) == nil {
		t.Error("空日志记录器应回退到全局日志")
	}
}
