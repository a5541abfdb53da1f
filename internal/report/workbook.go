package report

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/quantfoundry/sigforge/internal/engine/optimize"
)

// WriteOptimizationWorkbook exports the grid search as an xlsx workbook
// with a ranking sheet, a skip sheet, and a diagnostics sheet.
func (w *Writer) WriteOptimizationWorkbook(outcome *optimize.Outcome) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), "Ranking")
	if err := writeRankingSheet(f, outcome); err != nil {
		return err
	}
	if len(outcome.Skips) > 0 {
		if _, err := f.NewSheet("Skips"); err != nil {
			return fmt.Errorf("failed to create skips sheet: %w", err)
		}
		writeSkipSheet(f, outcome)
	}
	if outcome.Valid > 0 {
		if _, err := f.NewSheet("Diagnostics"); err != nil {
			return fmt.Errorf("failed to create diagnostics sheet: %w", err)
		}
		writeDiagnosticsSheet(f, outcome)
	}

	workbookFile := filepath.Join(w.outputDir, "results.xlsx")
	if err := f.SaveAs(workbookFile); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeRankingSheet(f *excelize.File, outcome *optimize.Outcome) error {
	paramNames := outcomeParamNames(outcome)

	headers := []string{"Rank"}
	headers = append(headers, paramNames...)
	headers = append(headers,
		"Signals", "Scored", "Total Return", "Mean Return",
		"Volatility", "Sharpe", "Win Rate", "Max Drawdown", "Composite")
	for i, header := range headers {
		f.SetCellValue("Ranking", cellRef(i+1, 1), header)
	}

	for rowIdx, result := range outcome.Results {
		row := rowIdx + 2
		col := 1
		f.SetCellValue("Ranking", cellRef(col, row), rowIdx+1)
		col++
		for _, name := range paramNames {
			f.SetCellValue("Ranking", cellRef(col, row), result.Params[name])
			col++
		}
		for _, value := range []interface{}{
			result.SignalCount, result.Scored, result.TotalReturn,
			result.MeanReturn, result.Volatility, result.Sharpe,
			result.WinRate, result.MaxDrawdown, result.Composite,
		} {
			f.SetCellValue("Ranking", cellRef(col, row), value)
			col++
		}
	}
	return nil
}

func writeSkipSheet(f *excelize.File, outcome *optimize.Outcome) {
	f.SetCellValue("Skips", "A1", "Parameters")
	f.SetCellValue("Skips", "B1", "Reason")
	for i, skip := range outcome.Skips {
		row := i + 2
		f.SetCellValue("Skips", cellRef(1, row), formatParams(skip.Params))
		f.SetCellValue("Skips", cellRef(2, row), skip.Reason)
	}
}

func writeDiagnosticsSheet(f *excelize.File, outcome *optimize.Outcome) {
	f.SetCellValue("Diagnostics", "A1", "Best Parameters")
	f.SetCellValue("Diagnostics", "B1", formatParams(outcome.BestParams))
	f.SetCellValue("Diagnostics", "A2", "Best Score")
	f.SetCellValue("Diagnostics", "B2", outcome.BestScore)

	row := 4
	if len(outcome.Importance) > 0 {
		f.SetCellValue("Diagnostics", cellRef(1, row), "Parameter")
		f.SetCellValue("Diagnostics", cellRef(2, row), "Score Correlation")
		row++
		for _, name := range sortedKeys(outcome.Importance) {
			f.SetCellValue("Diagnostics", cellRef(1, row), name)
			f.SetCellValue("Diagnostics", cellRef(2, row), outcome.Importance[name])
			row++
		}
		row++
	}

	if outcome.Stability != nil {
		f.SetCellValue("Diagnostics", cellRef(1, row), "Parameter")
		f.SetCellValue("Diagnostics", cellRef(2, row), "Modal Value")
		f.SetCellValue("Diagnostics", cellRef(3, row), "Consistency")
		row++
		names := make([]string, 0, len(outcome.Stability.Params))
		for name := range outcome.Stability.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ps := outcome.Stability.Params[name]
			f.SetCellValue("Diagnostics", cellRef(1, row), name)
			f.SetCellValue("Diagnostics", cellRef(2, row), ps.Value)
			f.SetCellValue("Diagnostics", cellRef(3, row), ps.Consistency)
			row++
		}
	}
}

// outcomeParamNames returns the sorted parameter names of the grid. Every
// combination in one outcome carries the same keys.
func outcomeParamNames(outcome *optimize.Outcome) []string {
	var src map[string]float64
	switch {
	case len(outcome.Results) > 0:
		src = outcome.Results[0].Params
	case len(outcome.Skips) > 0:
		src = outcome.Skips[0].Params
	default:
		return nil
	}
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cellRef converts 1-based column and row numbers to an A1 style
// reference.
func cellRef(col, row int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return fmt.Sprintf("%s%d", name, row)
}
