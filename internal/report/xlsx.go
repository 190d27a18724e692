package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	runsSheet  = "Runs"
	stepsSheet = "Steps"
)

var (
	runsHeader  = []interface{}{"Run", "Status", "Driver", "Base URL", "Account", "Started", "Duration (s)", "Failed step"}
	stepsHeader = []interface{}{"Run", "#", "Step", "Status", "Duration (s)", "URL", "Error kind", "Error", "Artifact"}
)

// Workbook builds the run history spreadsheet: one row per run on the Runs
// sheet and one row per step on the Steps sheet.
func Workbook(runs []*Run) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(stepsSheet); err != nil {
		f.Close()
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := writeRow(f, runsSheet, 1, runsHeader); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeRow(f, stepsSheet, 1, stepsHeader); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(runsSheet, "A1", "H1", bold)
	_ = f.SetCellStyle(stepsSheet, "A1", "I1", bold)

	stepRow := 2
	for i, run := range runs {
		failed := ""
		if step := run.FailedStep(); step != nil {
			failed = step.Name
		}
		row := []interface{}{
			run.ID, string(run.Status), run.Driver, run.BaseURL, run.Account,
			run.StartedAt.UTC().Format(time.RFC3339), seconds(run.Duration()), failed,
		}
		if err := writeRow(f, runsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}

		for _, step := range run.Steps {
			row := []interface{}{
				run.ID, step.Index, step.Name, string(step.Status), seconds(step.Duration),
				step.URL, step.ErrorKind, step.Error, step.Artifact,
			}
			if err := writeRow(f, stepsSheet, stepRow, row); err != nil {
				f.Close()
				return nil, err
			}
			stepRow++
		}
	}

	_ = f.SetColWidth(runsSheet, "A", "A", 38)
	_ = f.SetColWidth(stepsSheet, "C", "C", 22)
	_ = f.SetColWidth(stepsSheet, "H", "H", 60)
	return f, nil
}

// ExportXLSX writes the run history workbook to path.
func ExportXLSX(runs []*Run, path string) error {
	f, err := Workbook(runs)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// WriteXLSX streams the run history workbook to w.
func WriteXLSX(runs []*Run, w io.Writer) error {
	f, err := Workbook(runs)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer f.Close()
	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func seconds(d time.Duration) float64 {
	return float64(d.Round(time.Millisecond)) / float64(time.Second)
}
