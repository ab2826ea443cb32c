package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"veritect/internal/metrics"
)

// WriteJSON writes the report as an indented JSON document.
func WriteJSON(path string, report *metrics.BinaryReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteCSV writes the report as a single header+row CSV file.
func WriteCSV(path string, report *metrics.BinaryReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"accuracy", "auc", "precision", "recall", "f1", "average_precision",
		"true_positives", "true_negatives", "false_positives", "false_negatives", "samples",
	}
	row := []string{
		formatFloat(report.Accuracy),
		formatFloat(report.AUC),
		formatFloat(report.Precision),
		formatFloat(report.Recall),
		formatFloat(report.F1),
		formatFloat(report.AveragePrecision),
		strconv.Itoa(report.Confusion.TruePositives),
		strconv.Itoa(report.Confusion.TrueNegatives),
		strconv.Itoa(report.Confusion.FalsePositives),
		strconv.Itoa(report.Confusion.FalseNegatives),
		strconv.Itoa(report.Samples),
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// RenderTable formats the report as a terminal table.
func RenderTable(report *metrics.BinaryReport) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Metric", "Value"})

	rows := []struct {
		name  string
		value string
	}{
		{"Accuracy", formatFloat(report.Accuracy)},
		{"AUC", formatFloat(report.AUC)},
		{"Precision", formatFloat(report.Precision)},
		{"Recall", formatFloat(report.Recall)},
		{"F1", formatFloat(report.F1)},
		{"Average precision", formatFloat(report.AveragePrecision)},
		{"True positives", strconv.Itoa(report.Confusion.TruePositives)},
		{"True negatives", strconv.Itoa(report.Confusion.TrueNegatives)},
		{"False positives", strconv.Itoa(report.Confusion.FalsePositives)},
		{"False negatives", strconv.Itoa(report.Confusion.FalseNegatives)},
		{"Samples", strconv.Itoa(report.Samples)},
	}
	for _, r := range rows {
		tw.AppendRow(table.Row{r.name, r.value})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
