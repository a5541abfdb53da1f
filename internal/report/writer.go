// Package report writes analysis artifacts (JSONL result streams,
// markdown reports, and spreadsheet workbooks) into a dated output
// directory.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine/falsesig"
	"github.com/quantfoundry/sigforge/internal/engine/optimize"
	"github.com/quantfoundry/sigforge/internal/engine/quality"
	"github.com/quantfoundry/sigforge/internal/engine/strategy"
)

// Writer handles writing analysis artifacts to disk.
type Writer struct {
	outputDir string
	dateDir   string
}

// NewWriter creates an artifact writer rooted at outputDir/<date>.
func NewWriter(outputDir string) *Writer {
	dateDir := time.Now().Format("2006-01-02")
	return &Writer{
		outputDir: filepath.Join(outputDir, dateDir),
		dateDir:   dateDir,
	}
}

// GetOutputDir returns the full output directory path.
func (w *Writer) GetOutputDir() string {
	return w.outputDir
}

// ArtifactPaths lists the files a full optimization run produces.
type ArtifactPaths struct {
	ResultsJSONL string `json:"results_jsonl"`
	ResultsCSV   string `json:"results_csv"`
	ReportMD     string `json:"report_md"`
	WorkbookXLSX string `json:"workbook_xlsx"`
	OutputDir    string `json:"output_dir"`
}

// GetArtifactPaths returns the paths of all generated artifacts.
func (w *Writer) GetArtifactPaths() *ArtifactPaths {
	return &ArtifactPaths{
		ResultsJSONL: filepath.Join(w.outputDir, "results.jsonl"),
		ResultsCSV:   filepath.Join(w.outputDir, "results.csv"),
		ReportMD:     filepath.Join(w.outputDir, "report.md"),
		WorkbookXLSX: filepath.Join(w.outputDir, "results.xlsx"),
		OutputDir:    w.outputDir,
	}
}

func (w *Writer) ensureDir() error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// WriteJSON writes any value as indented JSON under the output directory.
func (w *Writer) WriteJSON(name string, v interface{}) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(w.outputDir, name))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return nil
}

// WriteOptimization writes the grid search to JSONL: one line per ranked
// combination, one per skipped combination, and the outcome summary as
// the final line.
func (w *Writer) WriteOptimization(outcome *optimize.Outcome) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	resultsFile := filepath.Join(w.outputDir, "results.jsonl")
	file, err := os.Create(resultsFile)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	writeLine := func(v interface{}) error {
		jsonData, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal result line: %w", err)
		}
		if _, err := file.Write(jsonData); err != nil {
			return fmt.Errorf("failed to write result line: %w", err)
		}
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
		return nil
	}

	for _, result := range outcome.Results {
		if err := writeLine(result); err != nil {
			return err
		}
	}
	for _, skip := range outcome.Skips {
		if err := writeLine(skip); err != nil {
			return err
		}
	}
	return writeLine(outcome)
}

// WriteOptimizationCSV writes the ranked combinations as a flat CSV
// table, one row per combination with parameter columns first.
func (w *Writer) WriteOptimizationCSV(outcome *optimize.Outcome) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(w.outputDir, "results.csv"))
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	paramNames := outcomeParamNames(outcome)
	header := append([]string{"rank"}, paramNames...)
	header = append(header,
		"signal_count", "scored_signals", "total_return", "mean_return",
		"volatility", "sharpe", "win_rate", "max_drawdown", "composite_score")

	csvWriter := csv.NewWriter(file)
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i, result := range outcome.Results {
		row := []string{strconv.Itoa(i + 1)}
		for _, name := range paramNames {
			row = append(row, formatValue(result.Params[name]))
		}
		row = append(row,
			strconv.Itoa(result.SignalCount),
			strconv.Itoa(result.Scored),
			formatFloat(result.TotalReturn),
			formatFloat(result.MeanReturn),
			formatFloat(result.Volatility),
			formatFloat(result.Sharpe),
			formatFloat(result.WinRate),
			formatFloat(result.MaxDrawdown),
			formatFloat(result.Composite))
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteOptimizationReport writes a markdown report for one grid search.
func (w *Writer) WriteOptimizationReport(outcome *optimize.Outcome) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	reportFile := filepath.Join(w.outputDir, "report.md")
	file, err := os.Create(reportFile)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(w.generateOptimizationMarkdown(outcome)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (w *Writer) generateOptimizationMarkdown(outcome *optimize.Outcome) string {
	var report strings.Builder

	report.WriteString("# Parameter Optimization Report\n\n")
	report.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	report.WriteString(fmt.Sprintf("**Strategy**: %s\n", outcome.Strategy))
	report.WriteString(fmt.Sprintf("**Combinations**: %d evaluated, %d ranked, %d skipped\n",
		outcome.Evaluated, outcome.Valid, outcome.Skipped))
	report.WriteString(fmt.Sprintf("**Elapsed**: %s\n\n", outcome.Elapsed.Round(time.Millisecond)))

	if outcome.Valid == 0 {
		report.WriteString("## Summary\n\n")
		report.WriteString("No parameter combination produced enough usable signals to rank.\n\n")
		w.writeSkipSection(&report, outcome)
		w.writeArtifactSection(&report)
		return report.String()
	}

	report.WriteString("## Best Combination\n\n")
	report.WriteString(fmt.Sprintf("- **Parameters**: %s\n", formatParams(outcome.BestParams)))
	report.WriteString(fmt.Sprintf("- **Composite Score**: %.4f\n\n", outcome.BestScore))

	report.WriteString("## Ranking\n\n")
	report.WriteString("| Rank | Parameters | Score | Sharpe | Win Rate | Total Return | Max Drawdown | Signals |\n")
	report.WriteString("|------|------------|-------|--------|----------|--------------|--------------|--------:|\n")
	for i, result := range outcome.Results {
		if i >= 10 {
			report.WriteString(fmt.Sprintf("\n_%d further combinations omitted._\n", len(outcome.Results)-10))
			break
		}
		report.WriteString(fmt.Sprintf("| %d | %s | %.4f | %.3f | %.1f%% | %.2f%% | %.2f%% | %d |\n",
			i+1, formatParams(result.Params), result.Composite, result.Sharpe,
			result.WinRate*100, result.TotalReturn*100, result.MaxDrawdown*100, result.SignalCount))
	}
	report.WriteString("\n")

	if len(outcome.Importance) > 0 {
		report.WriteString("## Parameter Importance\n\n")
		report.WriteString("| Parameter | Score Correlation |\n")
		report.WriteString("|-----------|------------------:|\n")
		for _, name := range sortedKeys(outcome.Importance) {
			report.WriteString(fmt.Sprintf("| %s | %.3f |\n", name, outcome.Importance[name]))
		}
		report.WriteString("\n")
	}

	if outcome.Stability != nil {
		report.WriteString("## Stability (Top Decile)\n\n")
		report.WriteString(fmt.Sprintf("- **Combinations Examined**: %d\n", outcome.Stability.TopCount))
		report.WriteString(fmt.Sprintf("- **Score Range**: %.4f\n", outcome.Stability.ScoreRange))
		report.WriteString(fmt.Sprintf("- **Score StdDev**: %.4f\n\n", outcome.Stability.ScoreStdDev))

		report.WriteString("| Parameter | Modal Value | Consistency |\n")
		report.WriteString("|-----------|-------------|------------:|\n")
		names := make([]string, 0, len(outcome.Stability.Params))
		for name := range outcome.Stability.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ps := outcome.Stability.Params[name]
			report.WriteString(fmt.Sprintf("| %s | %s | %.1f%% |\n",
				name, formatValue(ps.Value), ps.Consistency*100))
		}
		report.WriteString("\n")
	}

	w.writeSkipSection(&report, outcome)
	w.writeArtifactSection(&report)
	return report.String()
}

func (w *Writer) writeSkipSection(report *strings.Builder, outcome *optimize.Outcome) {
	if outcome.Skipped == 0 {
		return
	}
	report.WriteString("## Skip Analysis\n\n")
	report.WriteString("| Reason | Count | Rate |\n")
	report.WriteString("|--------|-------|-----:|\n")
	for _, reason := range sortedCountKeys(outcome.SkipReasons) {
		count := outcome.SkipReasons[reason]
		rate := float64(count) / float64(outcome.Evaluated) * 100
		report.WriteString(fmt.Sprintf("| %s | %d | %.1f%% |\n", reason, count, rate))
	}
	report.WriteString("\n")
}

func (w *Writer) writeArtifactSection(report *strings.Builder) {
	paths := w.GetArtifactPaths()
	report.WriteString("## Artifact Paths\n\n")
	report.WriteString(fmt.Sprintf("- **Results JSONL**: `%s`\n", paths.ResultsJSONL))
	report.WriteString(fmt.Sprintf("- **Report Markdown**: `%s`\n", paths.ReportMD))
	report.WriteString(fmt.Sprintf("- **Output Directory**: `%s`\n", paths.OutputDir))
}

// WriteQualityReport writes a markdown report for a quality analysis.
func (w *Writer) WriteQualityReport(rep quality.Report) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(w.outputDir, "quality.md"))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(generateQualityMarkdown(rep)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func generateQualityMarkdown(rep quality.Report) string {
	var report strings.Builder

	report.WriteString("# Signal Quality Report\n\n")
	report.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))

	if !rep.Valid {
		report.WriteString("\nNo signals could be scored")
		if rep.Reason != "" {
			report.WriteString(fmt.Sprintf(": %s", rep.Reason))
		}
		report.WriteString(".\n")
		return report.String()
	}

	report.WriteString(fmt.Sprintf("**Rating**: %s (composite %.1f)\n\n", rep.Rating, rep.CompositeScore))

	report.WriteString("## Summary\n\n")
	report.WriteString(fmt.Sprintf("- **Signals**: %d total, %d scored, %d excluded\n",
		rep.TotalSignals, rep.ScoredSignals, rep.ExcludedSignals))
	report.WriteString(fmt.Sprintf("- **Primary Horizon**: %d periods\n", rep.PrimaryHorizon))
	report.WriteString(fmt.Sprintf("- **Win Rate**: %.1f%%\n", rep.WinRate*100))
	report.WriteString(fmt.Sprintf("- **Mean Return**: %.2f%% (median %.2f%%)\n",
		rep.MeanReturn*100, rep.MedianReturn*100))
	report.WriteString(fmt.Sprintf("- **Total Return**: %.2f%%\n", rep.TotalReturn*100))
	report.WriteString(fmt.Sprintf("- **Sharpe**: %.3f\n", rep.Sharpe))
	report.WriteString(fmt.Sprintf("- **Max Drawdown**: %.2f%%\n", rep.MaxDrawdown*100))
	report.WriteString(fmt.Sprintf("- **Consistency**: %.1f%%\n", rep.Consistency*100))
	if rep.ProfitFactor != nil {
		report.WriteString(fmt.Sprintf("- **Profit Factor**: %.2f\n", *rep.ProfitFactor))
	}
	if rep.StrengthCorr != nil {
		report.WriteString(fmt.Sprintf("- **Strength Correlation**: %.3f\n", *rep.StrengthCorr))
	}
	report.WriteString("\n")

	if len(rep.HorizonMeans) > 0 {
		report.WriteString("## Horizon Returns\n\n")
		report.WriteString("| Horizon | Mean Return |\n")
		report.WriteString("|---------|------------:|\n")
		horizons := make([]int, 0, len(rep.HorizonMeans))
		for h := range rep.HorizonMeans {
			horizons = append(horizons, h)
		}
		sort.Ints(horizons)
		for _, h := range horizons {
			report.WriteString(fmt.Sprintf("| %d | %.2f%% |\n", h, rep.HorizonMeans[h]*100))
		}
		report.WriteString("\n")
	}

	if len(rep.ByType) > 0 {
		report.WriteString("## By Signal Type\n\n")
		report.WriteString("| Type | Count | Win Rate | Mean Return |\n")
		report.WriteString("|------|-------|----------|------------:|\n")
		types := make([]string, 0, len(rep.ByType))
		for typ := range rep.ByType {
			types = append(types, string(typ))
		}
		sort.Strings(types)
		for _, typ := range types {
			tr := rep.ByType[signal.Type(typ)]
			report.WriteString(fmt.Sprintf("| %s | %d | %.1f%% | %.2f%% |\n",
				typ, tr.Count, tr.WinRate*100, tr.MeanReturn*100))
		}
		report.WriteString("\n")
	}

	report.WriteString("## Significance\n\n")
	sig := rep.Significance
	report.WriteString(fmt.Sprintf("- **t-statistic**: %.3f\n", sig.TStat))
	report.WriteString(fmt.Sprintf("- **p-value**: %.4f\n", sig.PValue))
	report.WriteString(fmt.Sprintf("- **Significant**: %t\n", sig.Significant))
	report.WriteString(fmt.Sprintf("- **Sample Size**: %d\n", sig.SampleSize))

	return report.String()
}

// WriteFalseSignalReport writes a markdown report for a false-signal
// evaluation.
func (w *Writer) WriteFalseSignalReport(rep falsesig.Report) error {
	if err := w.ensureDir(); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(w.outputDir, "falsesignals.md"))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(generateFalseSignalMarkdown(rep)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func generateFalseSignalMarkdown(rep falsesig.Report) string {
	var report strings.Builder

	report.WriteString("# False Signal Report\n\n")
	report.WriteString(fmt.Sprintf("**Generated**: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))
	report.WriteString(fmt.Sprintf("**Move Threshold**: %.2f%%\n\n", rep.MoveThreshold*100))

	report.WriteString("## Summary\n\n")
	report.WriteString(fmt.Sprintf("- **Evaluated**: %d signals (%d skipped)\n", rep.Evaluated, rep.Skipped))
	report.WriteString(fmt.Sprintf("- **False**: %d (%.1f%%)\n", rep.FalseCount, rep.FalseRate*100))
	report.WriteString(fmt.Sprintf("- **Valid**: %d\n", rep.ValidCount))
	report.WriteString(fmt.Sprintf("- **Mean Days to Threshold**: %.1f\n\n", rep.MeanDaysToThreshold))

	if len(rep.FailureReasons) > 0 {
		report.WriteString("## Failure Reasons\n\n")
		report.WriteString("| Check | Failures |\n")
		report.WriteString("|-------|---------:|\n")
		for _, check := range falsesig.AllChecks {
			if count, ok := rep.FailureReasons[check]; ok {
				report.WriteString(fmt.Sprintf("| %s | %d |\n", check, count))
			}
		}
		report.WriteString("\n")
	}

	if len(rep.ByType) > 0 {
		report.WriteString("## By Signal Type\n\n")
		report.WriteString("| Type | False | Valid |\n")
		report.WriteString("|------|-------|------:|\n")
		types := make([]string, 0, len(rep.ByType))
		for typ := range rep.ByType {
			types = append(types, string(typ))
		}
		sort.Strings(types)
		for _, typ := range types {
			counts := rep.ByType[signal.Type(typ)]
			report.WriteString(fmt.Sprintf("| %s | %d | %d |\n", typ, counts.False, counts.Valid))
		}
		report.WriteString("\n")
	}

	if len(rep.Suggestions) > 0 {
		report.WriteString("## Suggestions\n\n")
		for i, suggestion := range rep.Suggestions {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, suggestion))
		}
	}

	return report.String()
}

// formatParams renders a parameter map as "name=value" pairs in sorted
// name order.
func formatParams(params strategy.Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, formatValue(params[name]))
	}
	return strings.Join(parts, ", ")
}

// formatValue renders a float without trailing zeros.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
