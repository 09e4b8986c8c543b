package processor

import (
	"fmt"
	"io"
	"os"
	"strings"

	"IOPRegression/src/config"
	"IOPRegression/src/dataerr"
	"IOPRegression/src/datasource/file"
	"IOPRegression/src/storage"
	"IOPRegression/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Normalizer 原始患者表 -> 清洗后的五列数据集
type Normalizer struct {
	Columns     config.ColumnMapping
	SheetName   string
	ExportXLSX  string // 非空时额外导出xlsx
	PreviewRows int
	Out         io.Writer // 摘要输出
	Logger      *storage.Logger
}

// CleanResult 一次清洗的统计与结果
type CleanResult struct {
	InputRows      int
	DroppedNoIOP   int // IOP无法计算而删除的行
	DroppedMissing int // IOP计算后因年龄/性别/角膜厚度缺失而删除的行
	Records        []CleanedRecord
	Frame          dataframe.DataFrame
}

func NewNormalizer(cfg *config.Config, dcfg *config.DataConfig, out io.Writer, logger *storage.Logger) *Normalizer {
	if out == nil {
		out = os.Stdout
	}
	return &Normalizer{
		Columns:     dcfg.Columns,
		SheetName:   cfg.SheetName,
		ExportXLSX:  cfg.ExportXLSX,
		PreviewRows: cfg.PreviewRows,
		Out:         out,
		Logger:      logger,
	}
}

// Run 读取inputPath，清洗后覆盖写入outputPath并输出摘要
// 出错时不会生成输出文件
func (n *Normalizer) Run(inputPath, outputPath string) (*CleanResult, error) {
	df, err := file.ReadTable(inputPath, n.SheetName)
	if err != nil {
		return nil, err
	}

	if missing := file.MissingColumns(df, n.Columns.Required()); len(missing) > 0 {
		return nil, dataerr.MissingColumns(inputPath, missing)
	}

	res, err := n.Clean(df)
	if err != nil {
		return nil, err
	}

	// xlsx导出先于CSV，失败时不留下CSV
	if n.ExportXLSX != "" {
		if err := utils.SaveToExcel(res.Frame, n.ExportXLSX); err != nil {
			return nil, err
		}
		n.info("已导出xlsx: " + n.ExportXLSX)
	}

	if err := utils.WriteCSV(res.Frame, outputPath); err != nil {
		return nil, err
	}
	n.info(fmt.Sprintf("清洗完成: 输入%d行, IOP缺失删除%d行, 关键字段缺失删除%d行, 输出%d行 -> %s",
		res.InputRows, res.DroppedNoIOP, res.DroppedMissing, len(res.Records), outputPath))

	n.printSummary(res, outputPath)
	return res, nil
}

// Clean 对已读入的表执行IOP推导、过滤与投影
func (n *Normalizer) Clean(df dataframe.DataFrame) (*CleanResult, error) {
	records, err := n.toRecords(df)
	if err != nil {
		return nil, err
	}

	res := &CleanResult{InputRows: len(records)}

	type withIOP struct {
		rec PatientRecord
		iop float64
	}

	// 第一步: 计算IOP并删除无法计算的行
	kept := make([]withIOP, 0, len(records))
	for _, r := range records {
		iop, ok := DeriveIOP(r.Pneumatic, r.Perkins)
		if !ok {
			res.DroppedNoIOP++
			continue
		}
		kept = append(kept, withIOP{rec: r, iop: iop})
	}

	// 第二步: 删除年龄、性别、角膜厚度缺失的行
	for _, k := range kept {
		if !k.rec.Complete() {
			res.DroppedMissing++
			continue
		}
		res.Records = append(res.Records, CleanedRecord{
			Age:             k.rec.Age.Value,
			Gender:          k.rec.Gender,
			CorneaThickness: k.rec.Pachymetry.Value,
			IOP:             k.iop,
			AxialLength:     k.rec.AxialLength,
		})
	}

	frame, err := n.toFrame(res.Records)
	if err != nil {
		return nil, err
	}
	res.Frame = frame
	return res, nil
}

func (n *Normalizer) toRecords(df dataframe.DataFrame) ([]PatientRecord, error) {
	m := n.Columns
	if missing := file.MissingColumns(df, m.Required()); len(missing) > 0 {
		return nil, dataerr.MissingColumns("", missing)
	}

	age := df.Col(m.Age).Records()
	gender := df.Col(m.Gender).Records()
	pneumatic := df.Col(m.IOPPneumatic).Records()
	perkins := df.Col(m.IOPPerkins).Records()
	pachy := df.Col(m.Pachymetry).Records()
	axial := df.Col(m.AxialLength).Records()

	records := make([]PatientRecord, df.Nrow())
	for i := range records {
		row := i + 1
		r := PatientRecord{
			Row:         row,
			Gender:      parseText(gender[i]),
			AxialLength: parseText(axial[i]),
		}

		var err error
		if r.Pneumatic, err = parseReading(pneumatic[i], row, m.IOPPneumatic); err != nil {
			return nil, err
		}
		if r.Perkins, err = parseReading(perkins[i], row, m.IOPPerkins); err != nil {
			return nil, err
		}
		if r.Age, err = parseReading(age[i], row, m.Age); err != nil {
			return nil, err
		}
		if r.Pachymetry, err = parseReading(pachy[i], row, m.Pachymetry); err != nil {
			return nil, err
		}
		records[i] = r
	}
	return records, nil
}

// toFrame 投影为 [年龄, 性别, Cornea Thickness, IOP, 眼轴长度]
func (n *Normalizer) toFrame(records []CleanedRecord) (dataframe.DataFrame, error) {
	size := len(records)
	age := make([]string, size)
	gender := make([]string, size)
	cornea := make([]string, size)
	iop := make([]string, size)
	axial := make([]string, size)

	for i, r := range records {
		age[i] = formatFloat(r.Age)
		gender[i] = r.Gender
		cornea[i] = formatFloat(r.CorneaThickness)
		iop[i] = formatFloat(r.IOP)
		axial[i] = r.AxialLength
	}

	df := dataframe.New(
		series.New(age, series.String, n.Columns.Age),
		series.New(gender, series.String, n.Columns.Gender),
		series.New(cornea, series.String, config.CorneaThicknessLabel),
		series.New(iop, series.String, config.IOPLabel),
		series.New(axial, series.String, n.Columns.AxialLength),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("构建输出表失败: %w", df.Err)
	}
	return df, nil
}

func (n *Normalizer) printSummary(res *CleanResult, outputPath string) {
	w := n.Out
	fmt.Fprintf(w, "\n%d rows were removed due to missing Age, Gender, or Cornea Thickness values.\n", res.DroppedMissing)
	fmt.Fprintln(w, "\nData processing complete!")
	fmt.Fprintf(w, "A new file named '%s' has been created with the corrected data.\n", outputPath)
	fmt.Fprintln(w, "\nHere's a preview of the processed data:")
	fmt.Fprintln(w, Preview(res.Frame, n.PreviewRows))
}

// Preview 返回前rows行的表格文本
func Preview(df dataframe.DataFrame, rows int) string {
	if df.Nrow() == 0 || rows <= 0 {
		return "(no rows)"
	}
	if rows > df.Nrow() {
		rows = df.Nrow()
	}
	idx := make([]int, rows)
	for i := range idx {
		idx[i] = i
	}
	return strings.TrimRight(df.Subset(idx).String(), "\n")
}

func (n *Normalizer) info(msg string) {
	if n.Logger != nil {
		n.Logger.Info(msg)
	}
}
