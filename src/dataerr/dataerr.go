// dataerr.go
package dataerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 数据处理错误类型
type Kind int

const (
	FileNotFound     Kind = iota + 1 // 输入文件不存在
	SchemaMismatch                   // 缺少必需列
	Parse                            // 单元格无法解析为数值
	InsufficientData                 // 没有可用于拟合的观测
)

// 哨兵错误，用于 errors.Is 判断
var (
	ErrFileNotFound     = &Error{Kind: FileNotFound}
	ErrSchemaMismatch   = &Error{Kind: SchemaMismatch}
	ErrParse            = &Error{Kind: Parse}
	ErrInsufficientData = &Error{Kind: InsufficientData}
)

func (k Kind) String() string {
	switch k {
	case FileNotFound:
		return "file-not-found"
	case SchemaMismatch:
		return "schema-mismatch"
	case Parse:
		return "parse-error"
	case InsufficientData:
		return "insufficient-data"
	default:
		return "unknown"
	}
}

// Error 带类型的数据错误
type Error struct {
	Kind    Kind
	Path    string   // 相关文件路径
	Columns []string // SchemaMismatch: 缺失的列
	Row     int      // Parse: 数据行号(从1开始，不含表头)
	Column  string   // Parse: 列名
	Value   string   // Parse: 原始值
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case FileNotFound:
		msg = fmt.Sprintf("file '%s' was not found", e.Path)
	case SchemaMismatch:
		msg = fmt.Sprintf("required columns not found: [%s]", strings.Join(e.Columns, ", "))
		if e.Path != "" {
			msg = fmt.Sprintf("required columns not found in '%s': [%s]", e.Path, strings.Join(e.Columns, ", "))
		}
	case Parse:
		msg = fmt.Sprintf("cannot parse %q in column '%s' at row %d", e.Value, e.Column, e.Row)
	case InsufficientData:
		msg = "insufficient data to fit model"
	default:
		msg = "data error"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 只比较错误类型，使 errors.Is(err, ErrParse) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NotFound(path string, err error) error {
	return &Error{Kind: FileNotFound, Path: path, Err: err}
}

func MissingColumns(path string, cols []string) error {
	return &Error{Kind: SchemaMismatch, Path: path, Columns: cols}
}

func BadValue(row int, column, value string, err error) error {
	return &Error{Kind: Parse, Row: row, Column: column, Value: value, Err: err}
}

func Insufficient(err error) error {
	return &Error{Kind: InsufficientData, Err: err}
}

// KindOf 返回错误链中第一个数据错误的类型，没有则返回0
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
