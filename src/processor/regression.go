package processor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"IOPRegression/src/config"
	"IOPRegression/src/dataerr"
	"IOPRegression/src/datasource/file"
	"IOPRegression/src/storage"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/mat"
)

var errMissingValue = errors.New("value is missing")

// Model IOP = Intercept + Age*年龄 + Gender*女性指示 + CorneaThickness*角膜厚度
type Model struct {
	Intercept       float64
	Age             float64
	Gender          float64
	CorneaThickness float64
	Observations    int
}

// Predict 按模型计算IOP
func (m *Model) Predict(age, genderIndicator, corneaThickness float64) float64 {
	return m.Intercept + m.Age*age + m.Gender*genderIndicator + m.CorneaThickness*corneaThickness
}

// WriteReport 输出回归系数，保留4位小数
func (m *Model) WriteReport(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Regression Model Results:\n"+
		"--------------------------\n"+
		"Intercept (β₀): %.4f\n"+
		"Beta factor for Age (β₁): %.4f\n"+
		"Beta factor for Gender (β₂): %.4f\n"+
		"Beta factor for Cornea Thickness (β₃): %.4f\n"+
		"Observations: %d\n",
		m.Intercept, m.Age, m.Gender, m.CorneaThickness, m.Observations)
	return err
}

// EncodeGender "Female" -> 1，其余任何值(含"Male"和缺失) -> 0
func EncodeGender(v string) float64 {
	if v == "Female" {
		return 1
	}
	return 0
}

// Fitter 读取清洗后的CSV并拟合最小二乘回归
type Fitter struct {
	Columns config.FitterColumns
	Out     io.Writer
	Logger  *storage.Logger
}

func NewFitter(dcfg *config.DataConfig, out io.Writer, logger *storage.Logger) *Fitter {
	if out == nil {
		out = os.Stdout
	}
	return &Fitter{Columns: dcfg.FitterColumns(), Out: out, Logger: logger}
}

// Run 拟合cleanedPath中的数据并输出报告，模型不做持久化
func (f *Fitter) Run(cleanedPath string) (*Model, error) {
	df, err := file.ReadTable(cleanedPath, "")
	if err != nil {
		return nil, err
	}

	model, err := f.Fit(df)
	if err != nil {
		return nil, err
	}

	if f.Logger != nil {
		f.Logger.Info(fmt.Sprintf("回归完成: n=%d, β₀=%.4f, β₁=%.4f, β₂=%.4f, β₃=%.4f",
			model.Observations, model.Intercept, model.Age, model.Gender, model.CorneaThickness))
	}

	if err := model.WriteReport(f.Out); err != nil {
		return nil, fmt.Errorf("输出回归报告失败: %w", err)
	}
	return model, nil
}

// Fit 以 [年龄, 女性指示, 角膜厚度] 为自变量、IOP为因变量拟合
// 眼轴长度即使存在也不参与回归
func (f *Fitter) Fit(df dataframe.DataFrame) (*Model, error) {
	c := f.Columns
	if missing := file.MissingColumns(df, []string{c.Age, c.Gender, c.CorneaThickness, c.IOP}); len(missing) > 0 {
		return nil, dataerr.MissingColumns("", missing)
	}

	age := df.Col(c.Age).Records()
	gender := df.Col(c.Gender).Records()
	cornea := df.Col(c.CorneaThickness).Records()
	iop := df.Col(c.IOP).Records()

	X := make([][]float64, df.Nrow())
	y := make([]float64, df.Nrow())
	for i := range X {
		row := i + 1
		a, err := requireFloat(age[i], row, c.Age)
		if err != nil {
			return nil, err
		}
		ct, err := requireFloat(cornea[i], row, c.CorneaThickness)
		if err != nil {
			return nil, err
		}
		target, err := requireFloat(iop[i], row, c.IOP)
		if err != nil {
			return nil, err
		}
		X[i] = []float64{a, EncodeGender(gender[i]), ct}
		y[i] = target
	}

	beta, err := FitOLS(X, y)
	if err != nil {
		return nil, err
	}

	return &Model{
		Intercept:       beta[0],
		Age:             beta[1],
		Gender:          beta[2],
		CorneaThickness: beta[3],
		Observations:    len(y),
	}, nil
}

// FitOLS 带截距的普通最小二乘，返回 [截距, β₁, ..., βp]
// 自变量按列中心化后用SVD求最小范数解，秩不足时无法确定的方向系数取0
func FitOLS(X [][]float64, y []float64) ([]float64, error) {
	n := len(y)
	if len(X) != n {
		return nil, fmt.Errorf("自变量行数%d与因变量行数%d不一致", len(X), n)
	}
	if n == 0 {
		return nil, dataerr.Insufficient(fmt.Errorf("no observations"))
	}

	k := len(X[0])
	xMean := make([]float64, k)
	var yMean float64
	for i, row := range X {
		if len(row) != k {
			return nil, fmt.Errorf("第%d行自变量个数为%d，应为%d", i+1, len(row), k)
		}
		for j, v := range row {
			xMean[j] += v / float64(n)
		}
		yMean += y[i] / float64(n)
	}

	coef := make([]float64, k)
	if k > 0 {
		centered := mat.NewDense(n, k, nil)
		yc := mat.NewVecDense(n, nil)
		for i, row := range X {
			for j, v := range row {
				centered.Set(i, j, v-xMean[j])
			}
			yc.SetVec(i, y[i]-yMean)
		}

		var svd mat.SVD
		if !svd.Factorize(centered, mat.SVDThin) {
			return nil, fmt.Errorf("最小二乘求解失败: SVD分解未收敛")
		}
		if rank := svd.Rank(rcond(n, k)); rank > 0 {
			var beta mat.VecDense
			svd.SolveVecTo(&beta, yc, rank)
			for j := range coef {
				coef[j] = beta.AtVec(j)
			}
		}
	}

	intercept := yMean
	for j, c := range coef {
		intercept -= c * xMean[j]
	}
	return append([]float64{intercept}, coef...), nil
}

// rcond 奇异值截断阈值 eps*max(n,k)
func rcond(n, k int) float64 {
	m := n
	if k > m {
		m = k
	}
	return float64(m) * epsilon
}

const epsilon = 2.220446049250313e-16

func requireFloat(raw string, row int, column string) (float64, error) {
	r, err := parseReading(raw, row, column)
	if err != nil {
		return 0, err
	}
	if !r.Valid {
		return 0, dataerr.BadValue(row, column, raw, errMissingValue)
	}
	return r.Value, nil
}
