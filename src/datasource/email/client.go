// client.go
package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"IOPRegression/src/storage"
)

const (
	MaxFetchMessages   = 20             // 单次最多拉取的邮件数，取最新的
	FetchBufferSize    = 10             // 拉取通道缓冲
	RecentMailDuration = 24 * time.Hour // 只看最近一天的邮件
)

// MailService 数据邮件来源
type MailService interface {
	Connect() error
	Disconnect()
	// FetchDatasetEmails 返回主题包含subject的未读邮件，只带数据附件
	FetchDatasetEmails(subject string) ([]*Email, error)
}

// Email 一封带数据附件的邮件
type Email struct {
	UID         uint32
	Date        time.Time
	From        string
	Subject     string
	Attachments []*Attachment // 仅 .csv / .xlsx
}

type Attachment struct {
	Filename string
	Content  []byte
}

// IsDatasetFile 是否为可读取的数据表文件
func IsDatasetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// imapConn EmailClient用到的IMAP命令，*client.Client实现该接口
type imapConn interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
}

// EmailClient 通过IMAP(TLS)拉取数据邮件
type EmailClient struct {
	server   string // 含端口，如 "imap.qq.com:993"
	username string
	password string
	dial     func(addr string) (imapConn, error)

	mu   sync.Mutex
	conn imapConn
}

func NewEmailClient(server, username, password string) *EmailClient {
	return &EmailClient{
		server:   server,
		username: username,
		password: password,
		dial: func(addr string) (imapConn, error) {
			return client.DialTLS(addr, nil)
		},
	}
}

// Connect 已连接时直接返回
func (s *EmailClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	c, err := s.dial(s.server)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("登录失败: %w", err)
	}

	s.conn = c
	return nil
}

func (s *EmailClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Logout()
		s.conn = nil
	}
}

// FetchDatasetEmails 在服务器端按主题、未读、最近24小时搜索，按UID拉取
func (s *EmailClient) FetchDatasetEmails(subject string) ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, fmt.Errorf("未连接到邮件服务器")
	}

	if _, err := s.conn.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	uids, err := s.conn.UidSearch(searchCriteria(subject, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// UID递增，保留最新的
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > MaxFetchMessages {
		uids = uids[len(uids)-MaxFetchMessages:]
	}

	return s.fetch(uids)
}

func searchCriteria(subject string, now time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = now.Add(-RecentMailDuration)
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	return criteria
}

func (s *EmailClient) fetch(uids []uint32) ([]*Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(seqset, items, messages)
	}()

	var (
		emails []*Email
		errs   []string
	)
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			errs = append(errs, fmt.Sprintf("UID %d: 正文为空", msg.Uid))
			continue
		}
		e, err := ParseMessage(msg.Uid, body)
		if err != nil {
			errs = append(errs, fmt.Sprintf("UID %d: %v", msg.Uid, err))
			continue
		}
		if e.Date.IsZero() {
			e.Date = msg.InternalDate
		}
		emails = append(emails, e)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	if len(emails) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("邮件均无法解析: %s", strings.Join(errs, "; "))
	}
	return emails, nil
}

// ParseMessage 解析RFC 5322邮件，只保留 .csv/.xlsx 附件
func ParseMessage(uid uint32, r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}

	date, _ := mr.Header.Date()
	e := &Email{
		UID:     uid,
		Date:    date,
		From:    decodeHeader(mr.Header.Get("From")),
		Subject: decodeHeader(mr.Header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return e, fmt.Errorf("读取邮件分段失败: %w", err)
		}

		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		if a, err := parseAttachment(h, p.Body); err == nil && a != nil {
			e.Attachments = append(e.Attachments, a)
		}
	}
	return e, nil
}

// parseAttachment 非数据文件返回nil
func parseAttachment(h *mail.AttachmentHeader, body io.Reader) (*Attachment, error) {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		return nil, fmt.Errorf("无效的附件名")
	}
	filename = decodeHeader(filename)
	if !IsDatasetFile(filename) {
		return nil, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("读取附件%s失败: %w", filename, err)
	}
	return &Attachment{Filename: filename, Content: buf.Bytes()}, nil
}

// decodeHeader 解码 =?charset?encoding?text?= 形式的头部，失败时原样返回
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// charsetReader GBK/GB2312 转 UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	default:
		return input, nil
	}
}

// CheckAndProcessEmails 返回主题包含subject且带数据附件的最新邮件，没有则返回nil
func CheckAndProcessEmails(svc MailService, subject string, logger *storage.Logger) (*Email, error) {
	start := time.Now()
	logger.Info("开始检查邮箱...")

	if err := svc.Connect(); err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer svc.Disconnect()

	emails, err := svc.FetchDatasetEmails(subject)
	if err != nil {
		return nil, fmt.Errorf("获取邮件失败: %w", err)
	}

	latest := latestDatasetEmail(emails, subject)
	if latest == nil {
		logger.Info("没有带数据附件的目标邮件")
		return nil, nil
	}

	logger.Info(fmt.Sprintf("找到目标邮件(UID:%d, 附件%d个)，耗时: %v",
		latest.UID, len(latest.Attachments), time.Since(start)))
	return latest, nil
}

// latestDatasetEmail 按解码后的主题再过滤一次，取带附件且日期最新的一封
func latestDatasetEmail(emails []*Email, subject string) *Email {
	var latest *Email
	for _, e := range emails {
		if !strings.Contains(e.Subject, subject) || len(e.Attachments) == 0 {
			continue
		}
		if latest == nil || e.Date.After(latest.Date) {
			latest = e
		}
	}
	return latest
}
