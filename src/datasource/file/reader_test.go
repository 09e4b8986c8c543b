package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"IOPRegression/src/dataerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

const patientCSV = `Age,Gender,Pneumatic,Perkins,Pachymetry,Axial_Length
50,Male,18,22,540,23.5
60,Female,,16,550,NA
 ,Male,15,,520,24.1
`

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte(patientCSV), 0644))

	df, err := ReadTable(path, "")
	require.NoError(t, err)

	assert.Equal(t, 3, df.Nrow())
	assert.Equal(t, []string{"Age", "Gender", "Pneumatic", "Perkins", "Pachymetry", "Axial_Length"}, df.Names())

	pneumatic := df.Col("Pneumatic").Records()
	assert.Equal(t, "18", pneumatic[0])
	assert.True(t, IsMissing(pneumatic[1]))
	assert.True(t, IsMissing(df.Col("Axial_Length").Records()[1]))
	assert.True(t, IsMissing(df.Col("Age").Records()[2]))
}

func TestReadTableNotFound(t *testing.T) {
	_, err := ReadTable(filepath.Join(t.TempDir(), "nope.csv"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dataerr.ErrFileNotFound))
}

func TestReadCSVHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte("Age,Gender,Pneumatic\n"), 0644))

	df, err := ReadTable(path, "")
	require.NoError(t, err)
	assert.Equal(t, 0, df.Nrow())
	assert.Equal(t, []string{"Age", "Gender", "Pneumatic"}, df.Names())
	assert.Equal(t, []string{"Perkins"}, MissingColumns(df, []string{"Age", "Perkins"}))

	// 空文件没有任何列
	require.NoError(t, os.WriteFile(path, nil, 0644))
	df, err = ReadTable(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Age"}, MissingColumns(df, []string{"Age"}))
}

func writeXLSX(t *testing.T, path, sheetName string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	require.NoError(t, f.Save(path))
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.xlsx")
	writeXLSX(t, path, "患者数据", [][]string{
		{"Age", "Gender", "Pneumatic", "Perkins", "Pachymetry", "Axial_Length"},
		{"50", "Male", "18", "22", "540", "23.5"},
		{"61", "Female", "17", "", "530"},
	})

	df, err := ReadTable(path, "")
	require.NoError(t, err)
	require.Equal(t, 2, df.Nrow())
	assert.Equal(t, "540", df.Col("Pachymetry").Records()[0])
	assert.True(t, IsMissing(df.Col("Perkins").Records()[1]))
	assert.True(t, IsMissing(df.Col("Axial_Length").Records()[1]), "短行补齐为缺失值")

	_, err = ReadTable(path, "Sheet9")
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	df, err = ReadXLSXBytes(data, "患者数据")
	require.NoError(t, err)
	assert.Equal(t, 2, df.Nrow())
}

func TestMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	require.NoError(t, os.WriteFile(path, []byte(patientCSV), 0644))
	df, err := ReadCSV(path)
	require.NoError(t, err)

	assert.Empty(t, MissingColumns(df, []string{"Age", "Gender"}))
	assert.Equal(t, []string{"IOP", "Cornea"}, MissingColumns(df, []string{"IOP", "Age", "Cornea"}))
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "  ", "NA", "NaN", "nan", "null", "N/A"} {
		assert.True(t, IsMissing(v), v)
	}
	for _, v := range []string{"0", "Male", "22.5"} {
		assert.False(t, IsMissing(v), v)
	}
}

func TestFileMonitorWatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "full_patient_dataset.csv")

	monitor, err := NewFileMonitor(dir)
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 4)
	go monitor.Watch(ctx, target, func(name string) {
		select {
		case fired <- name:
		default:
		}
	})

	// 其他文件的写入不触发
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(target, []byte(patientCSV), 0644))

	select {
	case name := <-fired:
		assert.Equal(t, "full_patient_dataset.csv", filepath.Base(name))
	case <-time.After(5 * time.Second):
		t.Fatal("no event for target file")
	}
}

func TestFileMonitorWaitsForHandlers(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "full_patient_dataset.csv")

	monitor, err := NewFileMonitor(dir)
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- monitor.Watch(ctx, target, func(string) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		})
	}()

	require.NoError(t, os.WriteFile(target, []byte(patientCSV), 0644))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Watch returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after handlers finished")
	}
}
