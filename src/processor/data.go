// data.go
package processor

import (
	"strconv"
	"strings"

	"IOPRegression/src/dataerr"
	"IOPRegression/src/datasource/file"
)

// Reading 可缺失的数值测量
type Reading struct {
	Value float64
	Valid bool
}

func Present(v float64) Reading { return Reading{Value: v, Valid: true} }

// PatientRecord 原始表中的一行
type PatientRecord struct {
	Row         int // 数据行号，从1开始
	Age         Reading
	Gender      string // 空串表示缺失
	Pneumatic   Reading
	Perkins     Reading
	Pachymetry  Reading
	AxialLength string // 原样透传，不做校验
}

// CleanedRecord 清洗后的记录
type CleanedRecord struct {
	Age             float64
	Gender          string
	CorneaThickness float64
	IOP             float64
	AxialLength     string
}

// DeriveIOP 由两种眼压测量推导IOP
//   - 两者都有: 取平均
//   - 仅气动(pneumatic): 取气动值
//   - 仅Perkins或都没有: 未定义
func DeriveIOP(pneumatic, perkins Reading) (float64, bool) {
	switch {
	case pneumatic.Valid && perkins.Valid:
		return (pneumatic.Value + perkins.Value) / 2, true
	case pneumatic.Valid:
		return pneumatic.Value, true
	default:
		return 0, false
	}
}

// Complete 年龄、性别、角膜厚度均不缺失
func (r PatientRecord) Complete() bool {
	return r.Age.Valid && r.Gender != "" && r.Pachymetry.Valid
}

// parseReading 缺失值返回无效Reading，无法解析时返回Parse错误
func parseReading(raw string, row int, column string) (Reading, error) {
	if file.IsMissing(raw) {
		return Reading{}, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Reading{}, dataerr.BadValue(row, column, raw, err)
	}
	return Present(v), nil
}

func parseText(raw string) string {
	if file.IsMissing(raw) {
		return ""
	}
	return strings.TrimSpace(raw)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
