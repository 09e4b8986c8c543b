package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"IOPRegression/src/config"

	mailer "github.com/jordan-wright/email"
)

// BuildReportEmail 组装回归报告邮件，attachmentPath非空时附上清洗后的数据
func BuildReportEmail(c config.SendMailConfig, report, attachmentPath string) (*mailer.Email, error) {
	e := mailer.NewEmail()
	e.From = fmt.Sprintf("IOP Report <%s>", c.Username)
	e.To = c.To
	e.Subject = c.Subject
	e.Text = []byte(report)

	if attachmentPath != "" {
		if _, err := e.AttachFile(attachmentPath); err != nil {
			return nil, fmt.Errorf("附件添加失败: %w", err)
		}
	}
	return e, nil
}

// SendReport 通过SMTP(显式TLS)发送回归报告
func SendReport(c config.SendMailConfig, report, attachmentPath string) error {
	e, err := BuildReportEmail(c, report, attachmentPath)
	if err != nil {
		return err
	}

	// 确保服务器地址包含端口
	smtpAddr := c.Server
	if !strings.Contains(smtpAddr, ":") {
		smtpAddr += ":465" // 默认 SSL 端口
	}
	host := strings.Split(smtpAddr, ":")[0]

	err = e.SendWithTLS(
		smtpAddr,
		smtp.PlainAuth("", c.Username, c.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("邮件发送失败: %w (Server: %s)", err, smtpAddr)
	}
	return nil
}
