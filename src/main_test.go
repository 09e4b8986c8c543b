package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"IOPRegression/src/config"
	"IOPRegression/src/dataerr"
	"IOPRegression/src/datasource/email"
	"IOPRegression/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IOP = 2 + 0.1*Age + 1*Female + 0.01*Pachymetry，气动与Perkins读数相同
const patientsCSV = `Age,Gender,Pneumatic,Perkins,Pachymetry,Axial_Length
40,Male,11.4,11.4,540,23.1
50,Female,13.5,13.5,550,23.4
60,Male,13.8,13.8,580,
35,Female,12.1,12.1,560,24.0
70,Female,15.8,15.8,580,22.9
45,Male,12.0,12.0,550,23.3
55,Female,14.3,14.3,580,23.8
65,Male,14.2,14.2,570,24.1
30,Male,,,520,23.0
`

type fakeMail struct {
	emails []*email.Email
}

func (f *fakeMail) Connect() error { return nil }
func (f *fakeMail) Disconnect()    {}
func (f *fakeMail) FetchDatasetEmails(string) ([]*email.Email, error) {
	return f.emails, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.InputFile = filepath.Join(dir, "full_patient_dataset.csv")
	cfg.OutputFile = filepath.Join(dir, "full_dataset_cleaned.csv")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Email.TargetSubject = "IOP export"

	var out bytes.Buffer
	p := NewPipeline(cfg, config.DefaultDataConfig(), &out, storage.NewConsoleLogger(&bytes.Buffer{}))
	return p, &out
}

func TestPipelineRun(t *testing.T) {
	p, out := newTestPipeline(t)
	require.NoError(t, os.WriteFile(p.cfg.InputFile, []byte(patientsCSV), 0644))

	model, err := p.Run(p.cfg.InputFile)
	require.NoError(t, err)

	assert.Equal(t, 8, model.Observations)
	assert.InDelta(t, 2.0, model.Intercept, 1e-6)
	assert.InDelta(t, 0.1, model.Age, 1e-8)
	assert.InDelta(t, 1.0, model.Gender, 1e-8)
	assert.InDelta(t, 0.01, model.CorneaThickness, 1e-8)

	text := out.String()
	assert.Contains(t, text, "Data processing complete!")
	assert.Contains(t, text, "Regression Model Results:")
	assert.FileExists(t, p.cfg.OutputFile)
}

func TestPipelineSendsReport(t *testing.T) {
	p, _ := newTestPipeline(t)
	require.NoError(t, os.WriteFile(p.cfg.InputFile, []byte(patientsCSV), 0644))

	p.cfg.SendEmail.Enabled = true
	var gotReport, gotAttachment string
	p.send = func(c config.SendMailConfig, report, attachmentPath string) error {
		gotReport, gotAttachment = report, attachmentPath
		return nil
	}

	_, err := p.Run(p.cfg.InputFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(gotReport), "Regression Model Results:"))
	assert.Equal(t, p.cfg.OutputFile, gotAttachment)

	p.send = func(config.SendMailConfig, string, string) error { return errors.New("smtp down") }
	model, err := p.Run(p.cfg.InputFile)
	assert.EqualError(t, err, "smtp down")
	assert.NotNil(t, model)
}

func TestRunModes(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	err := runMode(ctx, "clean", p)
	assert.ErrorIs(t, err, dataerr.ErrFileNotFound)
	assert.NoFileExists(t, p.cfg.OutputFile)

	err = runMode(ctx, "fit", p)
	assert.ErrorIs(t, err, dataerr.ErrFileNotFound)

	require.NoError(t, os.WriteFile(p.cfg.InputFile, []byte(patientsCSV), 0644))
	require.NoError(t, runMode(ctx, "clean", p))
	assert.FileExists(t, p.cfg.OutputFile)
	require.NoError(t, runMode(ctx, "fit", p))
	require.NoError(t, runMode(ctx, "run", p))

	err = runMode(ctx, "bogus", p)
	assert.ErrorContains(t, err, "bogus")
}

func TestExecutePrintsErrorsToStdout(t *testing.T) {
	p, out := newTestPipeline(t)
	ctx := context.Background()

	assert.Equal(t, 1, execute(ctx, "run", p))
	assert.Contains(t, out.String(), "file '"+p.cfg.InputFile+"' was not found")

	out.Reset()
	require.NoError(t, os.WriteFile(p.cfg.InputFile, []byte("Age,Gender\n50,Male\n"), 0644))
	assert.Equal(t, 1, execute(ctx, "clean", p))
	assert.Contains(t, out.String(), "required columns not found")
	assert.Contains(t, out.String(), "Pneumatic, Perkins, Pachymetry, Axial_Length")

	out.Reset()
	require.NoError(t, os.WriteFile(p.cfg.InputFile, []byte(patientsCSV), 0644))
	assert.Equal(t, 0, execute(ctx, "run", p))
	assert.Contains(t, out.String(), "Regression Model Results:")
}

func TestPipelineMailOnce(t *testing.T) {
	p, _ := newTestPipeline(t)
	handler := email.NewDatasetAttachmentHandler(
		p.cfg.Email.TargetSubject, p.cfg.DataDir, "", p.dcfg.Columns.Required())

	svc := &fakeMail{emails: []*email.Email{{
		UID:     11,
		Subject: "IOP export",
		Date:    time.Now(),
		Attachments: []*email.Attachment{
			{Filename: "patients.csv", Content: []byte(patientsCSV)},
		},
	}}}

	path, err := p.MailOnce(svc, handler)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.cfg.DataDir, "patients.csv"), path)
	assert.FileExists(t, p.cfg.OutputFile)

	// 已处理的邮件不会重复运行
	path, err = p.MailOnce(svc, handler)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = p.MailOnce(&fakeMail{}, handler)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestPipelineWatch(t *testing.T) {
	p, _ := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx) }()

	// 等待watcher注册后再写入
	assert.Eventually(t, func() bool {
		if err := os.WriteFile(p.cfg.InputFile, []byte(patientsCSV), 0644); err != nil {
			return false
		}
		_, err := os.Stat(p.cfg.OutputFile)
		return err == nil
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestScheduleRejectsZeroInterval(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.cfg.ScheduleInterval = 0
	assert.ErrorContains(t, p.Schedule(context.Background()), "无效的执行间隔")
}
