package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"IOPRegression/src/config"
	"IOPRegression/src/datasource/email"
	"IOPRegression/src/storage"
)

const usage = "usage: iopregression [clean|fit|run|watch|schedule|mail]"

func main() {
	jsonFolder := "./config"
	jsonFile := "config.json"
	dataJsonFile := "dataconfig.json"
	cfg, dcfg, err := config.LoadConfig(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		fmt.Fprintln(os.Stdout, err)
		os.Exit(1)
	}

	// 初始化日志系统
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}

	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	p := NewPipeline(cfg, dcfg, os.Stdout, logger)
	code := execute(ctx, mode, p)
	stop()
	logger.Close()
	os.Exit(code)
}

// execute 执行一次运行模式并返回进程退出码，错误信息输出到标准输出
func execute(ctx context.Context, mode string, p *Pipeline) int {
	if err := runMode(ctx, mode, p); err != nil {
		p.fail(err)
		return 1
	}
	return 0
}

// runMode 按模式执行，后台模式阻塞到ctx取消
func runMode(ctx context.Context, mode string, p *Pipeline) error {
	switch mode {
	case "clean":
		_, err := p.Clean(p.cfg.InputFile)
		return err
	case "fit":
		_, err := p.Fit()
		return err
	case "run":
		_, err := p.Run(p.cfg.InputFile)
		return err
	case "watch":
		go echoLogs(ctx, p.logger, p.out)
		return p.Watch(ctx)
	case "schedule":
		go echoLogs(ctx, p.logger, p.out)
		return p.Schedule(ctx)
	case "mail":
		go echoLogs(ctx, p.logger, p.out)
		// 邮箱地址，用户名和密码
		client := email.NewEmailClient(
			p.cfg.Email.Server,
			p.cfg.Email.Username,
			p.cfg.Email.Password)
		return p.Mail(ctx, client)
	default:
		return fmt.Errorf("未知的运行模式 %q\n%s", mode, usage)
	}
}

// echoLogs 后台模式下把日志同步打印到终端
func echoLogs(ctx context.Context, logger *storage.Logger, w io.Writer) {
	logChan := logger.Subscribe()
	for {
		select {
		case msg := <-logChan:
			fmt.Fprintln(w, msg)
		case <-ctx.Done():
			return
		}
	}
}
