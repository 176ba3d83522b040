package scorecard

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"voice-qa-go/internal/logger"
	"voice-qa-go/internal/types"
)

// criterionHeaders name the column that holds criteria, in priority order.
var criterionHeaders = []string{"criteria", "criterion", "question", "item"}

// Load reads a scorecard table from a .csv or .xlsx upload. Only rows with a
// non-blank criterion are kept, in file order.
func Load(filename string, r io.Reader) ([]types.ScorecardItem, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("unsupported scorecard file %q (want .csv or .xlsx): %w", filename, types.ErrPrecondition)
	}
	if err != nil {
		return nil, err
	}
	items, err := fromRows(rows)
	if err != nil {
		return nil, err
	}
	logger.New().WithComponent("scorecard").
		WithField("file", filename).
		WithField("items", len(items)).
		Info("scorecard loaded")
	return items, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %v: %w", err, types.ErrPrecondition)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %v: %w", err, types.ErrPrecondition)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets: %w", types.ErrPrecondition)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

func fromRows(rows [][]string) ([]types.ScorecardItem, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("scorecard is empty: %w", types.ErrPrecondition)
	}
	header := rows[0]
	critIdx, catIdx, descIdx, maxIdx := -1, -1, -1, -1
	for _, want := range criterionHeaders {
		for i, h := range header {
			if normalizeHeader(h) == want {
				critIdx = i
				break
			}
		}
		if critIdx >= 0 {
			break
		}
	}
	for i, h := range header {
		switch n := normalizeHeader(h); {
		case n == "category" && catIdx == -1:
			catIdx = i
		case n == "description" && descIdx == -1:
			descIdx = i
		case strings.Contains(n, "max") && strings.Contains(n, "score") && maxIdx == -1:
			maxIdx = i
		}
	}
	if critIdx == -1 {
		return nil, fmt.Errorf("scorecard needs a column named one of %s: %w", strings.Join(criterionHeaders, ", "), types.ErrPrecondition)
	}

	var out []types.ScorecardItem
	for _, r := range rows[1:] {
		item := types.ScorecardItem{Criterion: cell(r, critIdx)}
		if item.Criterion == "" {
			continue
		}
		item.Category = cell(r, catIdx)
		item.Description = cell(r, descIdx)
		if v := cell(r, maxIdx); v != "" {
			item.MaxScore, _ = strconv.Atoi(v)
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("scorecard has no criteria rows: %w", types.ErrPrecondition)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), " ")
}

func cell(r []string, i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// Criteria returns the criterion strings in order.
func Criteria(items []types.ScorecardItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Criterion)
	}
	return out
}
