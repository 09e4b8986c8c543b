package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadConfigsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, dcfg, err := loadConfigs(dir, "config.json", "dataconfig.json", "")
	require.NoError(t, err)

	assert.Equal(t, "full_patient_dataset.csv", cfg.InputFile)
	assert.Equal(t, "full_dataset_cleaned.csv", cfg.OutputFile)
	assert.Equal(t, 5, cfg.PreviewRows)
	assert.Equal(t, DefaultDataConfig().Columns, dcfg.Columns)
	assert.Equal(t, []string{"Age", "Gender", "Pneumatic", "Perkins", "Pachymetry", "Axial_Length"}, dcfg.Columns.Required())
}

func TestLoadConfigsFromJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{
		"input_file": "patients.xlsx",
		"sheet_name": "Sheet2",
		"schedule_interval": "30m",
		"email": {"target_subject": "IOP export", "check_interval": "2m"}
	}`)
	writeFile(t, dir, "dataconfig.json", `{"columns": {"age": "Patient Age", "gender": "Sex",
		"iop_pneumatic": "NCT", "iop_perkins": "Perkins IOP", "pachymetry": "CCT", "axial_length": "AL"}}`)

	cfg, dcfg, err := loadConfigs(dir, "config.json", "dataconfig.json", "")
	require.NoError(t, err)

	assert.Equal(t, "patients.xlsx", cfg.InputFile)
	assert.Equal(t, "Sheet2", cfg.SheetName)
	assert.Equal(t, "full_dataset_cleaned.csv", cfg.OutputFile, "未配置的字段保留默认值")
	assert.Equal(t, 30*time.Minute, time.Duration(cfg.ScheduleInterval))
	assert.Equal(t, 2*time.Minute, time.Duration(cfg.Email.CheckInterval))
	assert.Equal(t, "CCT", dcfg.Columns.Pachymetry)

	fc := dcfg.FitterColumns()
	assert.Equal(t, FitterColumns{Age: "Patient Age", Gender: "Sex", CorneaThickness: "Cornea Thickness", IOP: "IOP"}, fc)
}

func TestLoadConfigsEnvOverridesJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"output_file": "from_json.csv"}`)
	writeFile(t, dir, ".env", "IOP_INPUT_FILE=from_dotenv.csv\n")

	t.Setenv("IOP_OUTPUT_FILE", "from_env.csv")
	t.Setenv("IOP_COLUMNS_AGE", "Alter")
	t.Setenv("IOP_SCHEDULE_INTERVAL", "15m")

	cfg, dcfg, err := loadConfigs(dir, "config.json", "dataconfig.json", filepath.Join(dir, ".env"))
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("IOP_INPUT_FILE") })

	assert.Equal(t, "from_env.csv", cfg.OutputFile)
	assert.Equal(t, "from_dotenv.csv", cfg.InputFile)
	assert.Equal(t, "Alter", dcfg.Columns.Age)
	assert.Equal(t, 15*time.Minute, time.Duration(cfg.ScheduleInterval))
}

func TestLoadConfigsErrors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"input_file": `)
		writeFile(t, dir, "dataconfig.json", `{"columns": 5}`)

		_, _, err := loadConfigs(dir, "config.json", "dataconfig.json", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "解析Config失败")
		assert.Contains(t, err.Error(), "解析DataConfig失败")
	})

	t.Run("empty column mapping", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "dataconfig.json", `{"columns": {"age": ""}}`)

		_, _, err := loadConfigs(dir, "config.json", "dataconfig.json", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DataConfig校验失败")
	})

	t.Run("send email without recipients", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"send_email": {"enabled": true, "server": "smtp.example.com"}}`)

		_, _, err := loadConfigs(dir, "config.json", "dataconfig.json", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Config校验失败")
	})
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1h30m"`)))
	assert.Equal(t, 90*time.Minute, time.Duration(d))

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1h30m0s"`, string(out))

	assert.Error(t, d.Decode("soon"))
}
