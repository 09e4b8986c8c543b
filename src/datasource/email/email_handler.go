// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"IOPRegression/src/datasource/file"
	"IOPRegression/src/storage"
)

// ====================== 附件处理器实现 ======================

// DatasetAttachmentHandler 保存邮件中的患者数据附件(.csv/.xlsx)
type DatasetAttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	SheetName     string          // xlsx附件的工作表
	Required      []string        // 附件必须包含的列
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewDatasetAttachmentHandler(subject, dataDir, sheetName string, required []string) *DatasetAttachmentHandler {
	return &DatasetAttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		SheetName:     sheetName,
		Required:      required,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过（线程安全）
func (h *DatasetAttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

func (h *DatasetAttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 保存第一个可解析且包含必需列的附件，返回保存路径
// 已处理、主题不匹配或没有合格附件时返回空路径
func (h *DatasetAttachmentHandler) Handle(email *Email, logger *storage.Logger) (string, error) {
	if email == nil || h.IsProcessed(email.UID) {
		return "", nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		logger.Info("跳过主题不匹配的邮件: " + email.Subject)
		return "", nil
	}

	logger.Info(fmt.Sprintf("处理邮件: %s 发件人: %s 日期: %s",
		email.Subject, email.From, email.Date.Format("2006-01-02 15:04:05")))

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	for _, attachment := range email.Attachments {
		if !IsDatasetFile(attachment.Filename) {
			continue
		}

		df, err := file.ReadTableBytes(attachment.Filename, attachment.Content, h.SheetName)
		if err != nil {
			logger.Warning(fmt.Sprintf("附件%s无法解析: %v", attachment.Filename, err))
			continue
		}
		if missing := file.MissingColumns(df, h.Required); len(missing) > 0 {
			logger.Warning(fmt.Sprintf("附件%s缺少列: %v", attachment.Filename, missing))
			continue
		}

		// 只保留附件名的文件名部分
		filePath := filepath.Join(h.DataDir, filepath.Base(attachment.Filename))
		if err := os.WriteFile(filePath, attachment.Content, 0644); err != nil {
			return "", fmt.Errorf("保存附件失败: %w", err)
		}

		logger.Info("附件已保存到: " + filePath)
		h.markAsProcessed(email.UID)
		return filePath, nil
	}

	h.markAsProcessed(email.UID)
	return "", nil
}
