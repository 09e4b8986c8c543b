package storage

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel 定义日志级别类型
type LogLevel int

// 日志级别常量定义
const (
	DEBUG   LogLevel = iota // 调试信息
	INFO                    // 普通信息
	WARNING                 // 警告信息
	ERROR                   // 错误信息
	FATAL                   // 致命错误
)

// Logger 日志记录器结构体
// 日志由zerolog编码为JSON行，经由Write写入文件并推送给订阅者
type Logger struct {
	path        string         // 日志文件路径，控制台模式为空
	file        *os.File       // 日志文件句柄
	out         io.Writer      // 实际输出
	zl          zerolog.Logger // 编码器
	mu          sync.Mutex     // 互斥锁，保证并发安全
	subscribers []chan string  // 订阅者通道列表
}

// NewLogger 创建写入文件的日志记录器
// 参数:
//
//	filename: 日志文件路径
//
// 返回值:
//
//	*Logger: 日志记录器实例
//	error: 创建过程中的错误
func NewLogger(filename string) (*Logger, error) {
	// 打开或创建日志文件，权限设置为0644
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	l := &Logger{path: filename, file: file, out: file}
	l.zl = zerolog.New(l).With().Timestamp().Logger()
	return l, nil
}

// NewConsoleLogger 创建输出到w的可读格式日志记录器
func NewConsoleLogger(w io.Writer) *Logger {
	l := &Logger{}
	l.out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	l.zl = zerolog.New(l).With().Timestamp().Logger()
	return l
}

// Write 实现io.Writer，供zerolog使用
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(p)
	if l.out != nil {
		var err error
		if n, err = l.out.Write(p); err != nil {
			return n, err
		}
	}

	// 通知所有订阅者
	entry := strings.TrimRight(string(p), "\n")
	for _, ch := range l.subscribers {
		select {
		case ch <- entry: // 尝试发送日志条目
		default: // 如果通道已满则跳过
		}
	}
	return n, nil
}

// Close 关闭日志文件
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.out = nil
		return err
	}
	return nil
}

// Reopen 重新打开一个文件
// 参数：
// filename：新文件的路径
// 返回值：
// error：重建文件时的错误
func (l *Logger) Reopen(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 关闭旧文件
	if l.file != nil {
		_ = l.file.Close()
	}

	// 重新打开
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.path = filename
	l.file = file
	l.out = file
	return nil
}

// Log 记录日志方法
// 参数:
//
//	level: 日志级别
//	message: 日志消息内容
func (l *Logger) Log(level LogLevel, message string) {
	l.zl.WithLevel(level.zerolog()).Msg(message)
}

// CheckRotate 日志文件超过maxSize表达式(如 "10 * 1024 * 1024")时轮转
func (l *Logger) CheckRotate(maxSize string) error {
	l.mu.Lock()
	file := l.file
	l.mu.Unlock()
	if file == nil {
		return nil
	}

	limit := eval(maxSize)
	if limit <= 0 {
		return nil
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("读取日志文件信息失败: %w", err)
	}

	if info.Size() > limit {
		return l.rotateLog()
	}
	return nil
}

func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
		ext := ".log"
		base := strings.TrimSuffix(l.path, ext)
		if err := os.Rename(l.path, fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102150405"), ext)); err != nil {
			return fmt.Errorf("日志轮转失败: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.out = file
	return nil
}

// Subscribe 订阅日志消息
// 返回值:
//
//	<-chan string: 只读通道，用于接收日志消息
func (l *Logger) Subscribe() <-chan string {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 创建带缓冲的通道(容量100)
	ch := make(chan string, 100)
	// 将新通道加入订阅者列表
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// String 实现LogLevel的String方法
// 返回值:
//
//	string: 日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.NoLevel
	}
}

// eval 计算 "10 * 1024 * 1024" 形式的乘法表达式，格式错误返回0
func eval(expr string) int64 {
	if strings.TrimSpace(expr) == "" {
		return 0
	}
	parts := strings.Split(expr, "*")
	var result int64 = 1
	for _, part := range parts {
		num, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		result *= int64(num)
	}
	return result
}

// 以下是快捷日志方法
func (l *Logger) Debug(msg string)   { l.Log(DEBUG, msg) }   // 记录调试信息
func (l *Logger) Info(msg string)    { l.Log(INFO, msg) }    // 记录普通信息
func (l *Logger) Warning(msg string) { l.Log(WARNING, msg) } // 记录警告信息
func (l *Logger) Error(msg string)   { l.Log(ERROR, msg) }   // 记录错误信息
func (l *Logger) Fatal(msg string)   { l.Log(FATAL, msg) }   // 记录致命错误，不退出进程
