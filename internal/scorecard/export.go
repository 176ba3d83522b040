package scorecard

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
	"voice-qa-go/internal/types"
)

const templateCSV = "Criterion,Description,Max Score\n" +
	"Greeting,Did the agent greet?,5\n" +
	"Empathy,Did the agent show empathy?,5\n"

// TemplateCSV is the starter scorecard offered for download.
func TemplateCSV() []byte { return []byte(templateCSV) }

var gradeHeader = []string{"criterion", "score", "reasoning"}

// WriteCSV writes one row per grade.
func WriteCSV(w io.Writer, grades []types.GradeEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(gradeHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, g := range grades {
		if err := cw.Write([]string{g.Criterion, strconv.Itoa(g.Score), g.Reasoning}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes grades to a "Scorecard" sheet with the overall score
// and summary below the table.
func WriteXLSX(w io.Writer, res types.GradingResult) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Scorecard"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"Criterion", "Score", "Reasoning"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, g := range res.Grades {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{g.Criterion, g.Score, g.Reasoning}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	next := len(res.Grades) + 3
	footer := [][]any{
		{"Overall Score", res.OverallScore},
		{"Summary", res.Summary},
	}
	for i, row := range footer {
		cellRef, _ := excelize.CoordinatesToCellName(1, next+i)
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return fmt.Errorf("write footer: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "A", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "C", "C", 80); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// WriteHistoryXLSX exports the call history list.
func WriteHistoryXLSX(w io.Writer, calls []types.CallSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "History"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"Call ID", "Filename", "Upload Time", "Graded", "Overall Score", "Created At"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, c := range calls {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{
			c.ID,
			c.Filename,
			c.UploadTime.Format("2006-01-02 15:04:05"),
			c.Graded,
			c.OverallScore,
			c.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
