// reader.go
package file

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"IOPRegression/src/dataerr"
	"IOPRegression/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
)

// MissingTokens 视为缺失值的单元格内容(去除首尾空格后比较)
var MissingTokens = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "<nil>"}

// IsMissing 判断单元格是否为缺失值
func IsMissing(s string) bool {
	s = strings.TrimSpace(s)
	for _, tok := range MissingTokens {
		if s == tok {
			return true
		}
	}
	return false
}

// ReadTable 读取表格文件，所有列均为字符串类型
// .xlsx 使用 tealeg/xlsx，其余按CSV读取
func ReadTable(filePath, sheetName string) (dataframe.DataFrame, error) {
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataframe.DataFrame{}, dataerr.NotFound(filePath, err)
		}
		return dataframe.DataFrame{}, fmt.Errorf("无法访问文件 %s: %w", filePath, err)
	}

	if strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		return ReadXLSX(filePath, sheetName)
	}
	return ReadCSV(filePath)
}

// ReadTableBytes 按文件名扩展名解析内存中的表格(如邮件附件)
func ReadTableBytes(name string, data []byte, sheetName string) (dataframe.DataFrame, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ReadXLSXBytes(data, sheetName)
	}
	return parseCSV(bytes.NewReader(data), name)
}

// ReadCSV 读取带表头的CSV
func ReadCSV(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dataframe.DataFrame{}, dataerr.NotFound(filePath, err)
		}
		return dataframe.DataFrame{}, fmt.Errorf("打开CSV失败: %w", err)
	}
	defer f.Close()

	return parseCSV(f, filePath)
}

func parseCSV(r io.Reader, name string) (dataframe.DataFrame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("读取CSV %s 失败: %w", name, err)
	}

	df := dataframe.ReadCSV(bytes.NewReader(data),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(MissingTokens),
	)
	if df.Err == nil {
		return df, nil
	}

	// gota不接受没有数据行的表，只有表头时构造0行的表
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err == nil && len(records) <= 1 {
		return headerOnlyFrame(records)
	}
	return dataframe.DataFrame{}, fmt.Errorf("解析CSV %s 失败: %w", name, df.Err)
}

// headerOnlyFrame 空文件返回无列的表，由列检查报告缺失
func headerOnlyFrame(records [][]string) (dataframe.DataFrame, error) {
	if len(records) == 0 {
		return dataframe.DataFrame{}, nil
	}

	cols := make([]series.Series, len(records[0]))
	for i, h := range records[0] {
		cols[i] = series.New([]string{}, series.String, h)
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("构建空表失败: %w", df.Err)
	}
	return df, nil
}

// ReadXLSX 读取xlsx文件的指定工作表，sheetName为空时取第一个
func ReadXLSX(filePath, sheetName string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file false: %w", err)
	}
	return sheetFromFile(xlFile, sheetName)
}

// ReadXLSXBytes 从内存中的xlsx(如邮件附件)读取
func ReadXLSXBytes(data []byte, sheetName string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open binary false: %w", err)
	}
	return sheetFromFile(xlFile, sheetName)
}

func sheetFromFile(xlFile *xlsx.File, sheetName string) (dataframe.DataFrame, error) {
	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表")
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		s, ok := xlFile.Sheet[sheetName]
		if !ok {
			return dataframe.DataFrame{}, fmt.Errorf("工作表 %s 不存在", sheetName)
		}
		sheet = s
	}

	return convertSheetToDataFrame(sheet)
}

// convertSheetToDataFrame 将xlsx.Sheet转换为dataframe.DataFrame
// 第一行为表头，短行用空字符串补齐
func convertSheetToDataFrame(sheet *xlsx.Sheet) (dataframe.DataFrame, error) {
	if len(sheet.Rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("工作表 %s 为空", sheet.Name)
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.String()))
	}

	// 准备数据列
	columns := make([][]string, len(headers))
	for i := range columns {
		columns[i] = make([]string, 0, len(sheet.Rows)-1)
	}

	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		for i := range headers {
			val := ""
			if i < len(row.Cells) && row.Cells[i] != nil {
				val = row.Cells[i].String()
			}
			if IsMissing(val) {
				val = "NaN"
			}
			columns[i] = append(columns[i], val)
		}
	}

	seriesList := make([]series.Series, len(headers))
	for i, colName := range headers {
		seriesList[i] = series.New(columns[i], series.String, colName)
	}

	df := dataframe.New(seriesList...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("转换为dataframe失败: %w", df.Err)
	}
	return df, nil
}

// MissingColumns 返回df中不存在的列，保持cols中的顺序
func MissingColumns(df dataframe.DataFrame, cols []string) []string {
	var missing []string
	for _, c := range cols {
		if !utils.HasColumn(df, c) {
			missing = append(missing, c)
		}
	}
	return missing
}
