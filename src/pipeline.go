package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"IOPRegression/src/config"
	"IOPRegression/src/datasource/email"
	"IOPRegression/src/datasource/file"
	"IOPRegression/src/processor"
	"IOPRegression/src/storage"

	"github.com/robfig/cron"
)

// ReportSender 发送回归报告，默认为 email.SendReport
type ReportSender func(c config.SendMailConfig, report, attachmentPath string) error

// Pipeline 串行执行 清洗 -> 回归，同一时间只允许一次运行
type Pipeline struct {
	cfg    *config.Config
	dcfg   *config.DataConfig
	out    io.Writer
	logger *storage.Logger
	send   ReportSender
	mu     sync.Mutex
}

func NewPipeline(cfg *config.Config, dcfg *config.DataConfig, out io.Writer, logger *storage.Logger) *Pipeline {
	if out == nil {
		out = os.Stdout
	}
	return &Pipeline{
		cfg:    cfg,
		dcfg:   dcfg,
		out:    out,
		logger: logger,
		send:   email.SendReport,
	}
}

// Clean 只执行清洗
func (p *Pipeline) Clean(input string) (*processor.CleanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clean(input)
}

// Fit 只对已有的清洗结果执行回归
func (p *Pipeline) Fit() (*processor.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	model, _, err := p.fit()
	return model, err
}

// Run 清洗input后立即回归，按配置发送报告并检查日志轮转
func (p *Pipeline) Run(input string) (*processor.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.clean(input); err != nil {
		return nil, err
	}

	model, report, err := p.fit()
	if err != nil {
		return nil, err
	}

	if p.cfg.SendEmail.Enabled {
		if err := p.send(p.cfg.SendEmail, report, p.cfg.OutputFile); err != nil {
			return model, err
		}
		p.logger.Info(fmt.Sprintf("回归报告已发送至 %v", p.cfg.SendEmail.To))
	}

	if err := p.logger.CheckRotate(p.cfg.LogMaxSize); err != nil {
		p.logger.Warning(err.Error())
	}
	return model, nil
}

func (p *Pipeline) clean(input string) (*processor.CleanResult, error) {
	n := processor.NewNormalizer(p.cfg, p.dcfg, p.out, p.logger)
	return n.Run(input, p.cfg.OutputFile)
}

// fit 返回模型及报告文本
func (p *Pipeline) fit() (*processor.Model, string, error) {
	var report bytes.Buffer
	f := processor.NewFitter(p.dcfg, io.MultiWriter(p.out, &report), p.logger)
	model, err := f.Run(p.cfg.OutputFile)
	if err != nil {
		return nil, "", err
	}
	return model, report.String(), nil
}

// runLogged 供后台触发使用，错误只记录不退出
func (p *Pipeline) runLogged(input string) {
	if _, err := p.Run(input); err != nil {
		p.fail(err)
	}
}

// fail 在标准输出打印错误并写入日志
func (p *Pipeline) fail(err error) {
	fmt.Fprintln(p.out, err)
	p.logger.Error(err.Error())
}

/******************** 运行模式 ********************/

// Watch 监听输入文件所在目录，输入文件被写入时重新运行
func (p *Pipeline) Watch(ctx context.Context) error {
	input := p.cfg.InputFile
	monitor, err := file.NewFileMonitor(filepath.Dir(input))
	if err != nil {
		return fmt.Errorf("启动文件监听失败: %w", err)
	}
	defer monitor.Close()

	p.logger.Info("开始监听输入文件: " + input)
	return monitor.Watch(ctx, input, func(path string) {
		p.logger.Info("检测到输入文件更新: " + path)
		p.runLogged(path)
	})
}

// Schedule 按 ScheduleInterval 周期运行，直到ctx取消
func (p *Pipeline) Schedule(ctx context.Context) error {
	return p.every(ctx, p.cfg.ScheduleInterval, func() {
		p.runLogged(p.cfg.InputFile)
	})
}

// MailOnce 拉取最新的目标邮件，保存数据附件后运行
// 没有新的可用附件时返回空路径
func (p *Pipeline) MailOnce(svc email.MailService, handler *email.DatasetAttachmentHandler) (string, error) {
	msg, err := email.CheckAndProcessEmails(svc, p.cfg.Email.TargetSubject, p.logger)
	if err != nil {
		return "", fmt.Errorf("检查处理邮件失败: %w", err)
	}
	if msg == nil {
		return "", nil
	}

	path, err := handler.Handle(msg, p.logger)
	if err != nil {
		return "", fmt.Errorf("处理邮件失败(UID:%d): %w", msg.UID, err)
	}
	if path == "" {
		p.logger.Info(fmt.Sprintf("邮件(UID:%d)没有可用的数据附件", msg.UID))
		return "", nil
	}

	if _, err := p.Run(path); err != nil {
		return path, err
	}
	return path, nil
}

// Mail 立即检查一次邮箱，之后按 Email.CheckInterval 轮询
func (p *Pipeline) Mail(ctx context.Context, svc email.MailService) error {
	handler := email.NewDatasetAttachmentHandler(
		p.cfg.Email.TargetSubject, p.cfg.DataDir, p.cfg.SheetName, p.dcfg.Columns.Required())

	check := func() {
		if _, err := p.MailOnce(svc, handler); err != nil {
			p.fail(err)
		}
	}

	check()
	return p.every(ctx, p.cfg.Email.CheckInterval, check)
}

// every 用cron按固定间隔执行job，阻塞到ctx取消
func (p *Pipeline) every(ctx context.Context, interval config.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("无效的执行间隔: %v", interval)
	}

	c := cron.New()
	cronSpec := fmt.Sprintf("@every %s", interval)
	if err := c.AddFunc(cronSpec, func() {
		p.logger.Info(fmt.Sprintf("开始定时任务(间隔: %v)...", interval))
		job()
	}); err != nil {
		return fmt.Errorf("创建定时任务失败: %w", err)
	}

	c.Start()
	defer c.Stop()

	p.logger.Info(fmt.Sprintf("定时任务已启动(间隔: %v)，按Ctrl+C退出", interval))
	<-ctx.Done()
	return nil
}
