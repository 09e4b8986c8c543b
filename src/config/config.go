package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// 环境变量前缀，例如 IOP_INPUT_FILE、IOP_COLUMNS_AGE
const EnvPrefix = "IOP"

// 输出表中的固定列名
const (
	CorneaThicknessLabel = "Cornea Thickness"
	IOPLabel             = "IOP"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	InputFile   string `json:"input_file" envconfig:"INPUT_FILE" validate:"required"`   // 原始患者数据(.csv/.xlsx)
	OutputFile  string `json:"output_file" envconfig:"OUTPUT_FILE" validate:"required"` // 清洗结果CSV
	SheetName   string `json:"sheet_name" envconfig:"SHEET_NAME"`                       // xlsx输入的工作表，为空取第一个
	ExportXLSX  string `json:"export_xlsx" envconfig:"EXPORT_XLSX"`                     // 清洗结果额外导出的xlsx路径
	PreviewRows int    `json:"preview_rows" envconfig:"PREVIEW_ROWS" validate:"min=0"`

	DataDir          string   `json:"data_dir" envconfig:"DATA_DIR"` // 邮件附件保存目录
	LogName          string   `json:"log_name" envconfig:"LOG_NAME" validate:"required"`
	LogMaxSize       string   `json:"log_max_size" envconfig:"LOG_MAX_SIZE"` // 例如 "10 * 1024 * 1024"
	ScheduleInterval Duration `json:"schedule_interval" envconfig:"SCHEDULE_INTERVAL"`

	Email     MailConfig     `json:"email" envconfig:"EMAIL"`
	SendEmail SendMailConfig `json:"send_email" envconfig:"SEND_EMAIL"`
}

// MailConfig 拉取数据附件的收件箱
type MailConfig struct {
	Server        string   `json:"server" envconfig:"SERVER"`                 // 邮件服务器地址
	Username      string   `json:"username" envconfig:"USERNAME"`             // 邮箱用户名
	Password      string   `json:"password" envconfig:"PASSWORD"`             // 邮箱密码
	TargetSubject string   `json:"target_subject" envconfig:"TARGET_SUBJECT"` // 需要匹配的邮件主题
	CheckInterval Duration `json:"check_interval" envconfig:"CHECK_INTERVAL"` // 检查新邮件的间隔时间
}

// SendMailConfig 回归报告发送设置
type SendMailConfig struct {
	Enabled  bool     `json:"enabled" envconfig:"ENABLED"`
	Server   string   `json:"server" envconfig:"SERVER" validate:"required_if=Enabled true"`
	Username string   `json:"username" envconfig:"USERNAME" validate:"required_if=Enabled true"`
	Password string   `json:"password" envconfig:"PASSWORD"`
	To       []string `json:"to" envconfig:"TO" validate:"required_if=Enabled true,dive,email"`
	Subject  string   `json:"subject" envconfig:"SUBJECT"`
}

// ColumnMapping 逻辑字段到原始表头的映射
type ColumnMapping struct {
	Age          string `json:"age" envconfig:"AGE" validate:"required"`
	Gender       string `json:"gender" envconfig:"GENDER" validate:"required"`
	IOPPneumatic string `json:"iop_pneumatic" envconfig:"IOP_PNEUMATIC" validate:"required"`
	IOPPerkins   string `json:"iop_perkins" envconfig:"IOP_PERKINS" validate:"required"`
	Pachymetry   string `json:"pachymetry" envconfig:"PACHYMETRY" validate:"required"`
	AxialLength  string `json:"axial_length" envconfig:"AXIAL_LENGTH" validate:"required"`
}

// Required 返回全部必需列，顺序固定
func (m ColumnMapping) Required() []string {
	return []string{m.Age, m.Gender, m.IOPPneumatic, m.IOPPerkins, m.Pachymetry, m.AxialLength}
}

type DataConfig struct {
	Columns ColumnMapping `json:"columns" envconfig:"COLUMNS"`
}

// FitterColumns 回归所需的列名
type FitterColumns struct {
	Age             string
	Gender          string
	CorneaThickness string
	IOP             string
}

// FitterColumns 由映射推导清洗结果中的列名
func (dc *DataConfig) FitterColumns() FitterColumns {
	return FitterColumns{
		Age:             dc.Columns.Age,
		Gender:          dc.Columns.Gender,
		CorneaThickness: CorneaThicknessLabel,
		IOP:             IOPLabel,
	}
}

func DefaultConfig() *Config {
	return &Config{
		InputFile:        "full_patient_dataset.csv",
		OutputFile:       "full_dataset_cleaned.csv",
		PreviewRows:      5,
		DataDir:          "data",
		LogName:          "app.log",
		LogMaxSize:       "10 * 1024 * 1024",
		ScheduleInterval: Duration(time.Hour),
		Email: MailConfig{
			CheckInterval: Duration(5 * time.Minute),
		},
		SendEmail: SendMailConfig{
			Subject: "IOP regression report",
		},
	}
}

func DefaultDataConfig() *DataConfig {
	return &DataConfig{
		Columns: ColumnMapping{
			Age:          "Age",
			Gender:       "Gender",
			IOPPneumatic: "Pneumatic",
			IOPPerkins:   "Perkins",
			Pachymetry:   "Pachymetry",
			AxialLength:  "Axial_Length",
		},
	}
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	loadErr            error
)

// LoadConfig 只加载一次配置：json文件 -> .env -> 环境变量覆盖 -> 校验
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	once.Do(func() {
		instance, dataConfigInstance, loadErr = loadConfigs(jsonFolder, jsonFile, dataJsonFile, ".env")
	})
	return instance, dataConfigInstance, loadErr
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile, envFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	if err := applyEnv(envFile, cfg, dcfg); err != nil {
		return nil, nil, err
	}

	if err := Validate(cfg, dcfg); err != nil {
		return nil, nil, err
	}

	return cfg, dcfg, nil
}

// readFile 文件不存在时返回nil，由调用方使用默认值
func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	cfg := DefaultConfig()
	if data != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			errChan <- fmt.Errorf("解析Config失败: %w", err)
			return
		}
	}
	resultChan <- cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	dcfg := DefaultDataConfig()
	if data != nil {
		if err := json.Unmarshal(data, dcfg); err != nil {
			errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
			return
		}
	}
	resultChan <- dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

// applyEnv 先加载.env(不覆盖已存在的环境变量)，再用 IOP_ 前缀的环境变量覆盖
func applyEnv(envFile string, cfg *Config, dcfg *DataConfig) error {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("加载%s失败: %w", envFile, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("环境变量覆盖Config失败: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, dcfg); err != nil {
		return fmt.Errorf("环境变量覆盖DataConfig失败: %w", err)
	}
	return nil
}

// Validate 校验配置
func Validate(cfg *Config, dcfg *DataConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("Config校验失败: %w", err)
	}
	if err := v.Struct(dcfg); err != nil {
		return fmt.Errorf("DataConfig校验失败: %w", err)
	}
	return nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON和环境变量中的 "5m"、"1h30m" 写法
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.Decode(s)
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Decode 实现envconfig.Decoder接口
func (d *Duration) Decode(value string) error {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }
