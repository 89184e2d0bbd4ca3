package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rampq/internal/ramp"
)

// ExportJSON writes the full report, batches and per-task details
// included, as indented JSON.
func ExportJSON(r *ramp.Report, filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ExportCSV writes one row per task across all batches.
func ExportCSV(r *ramp.Report, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"concurrency", "index", "jobId", "finalStatus", "success",
		"submitMs", "pollMs", "pollAttempts", "totalMs", "error",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, b := range r.Batches {
		for _, t := range b.Tasks {
			record := []string{
				strconv.Itoa(b.Concurrency),
				strconv.Itoa(t.Index),
				t.JobID,
				string(t.FinalStatus),
				strconv.FormatBool(t.Success),
				strconv.FormatInt(t.SubmitTimeMs, 10),
				strconv.FormatInt(t.PollTimeMs, 10),
				strconv.Itoa(t.PollAttempts),
				strconv.FormatInt(t.TotalTimeMs, 10),
				t.Error,
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportMarkdown writes a human-readable summary with one table row per
// batch plus the run totals.
func ExportMarkdown(r *ramp.Report, filename string) error {
	var sb strings.Builder

	sb.WriteString("# Ramp Test Report\n\n")
	sb.WriteString(fmt.Sprintf("- Strategy: `%s`\n", r.Strategy.Name))
	sb.WriteString(fmt.Sprintf("- Started: %s\n", r.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("- Overall time: %s\n", (time.Duration(r.OverallTimeMs) * time.Millisecond).Round(time.Millisecond)))
	if r.Aborted != "" {
		sb.WriteString(fmt.Sprintf("- **Aborted**: %s\n", r.Aborted))
	}
	sb.WriteString("\n## Batches\n\n")

	sb.WriteString("| Concurrency | Tests | OK | Fail | Success Rate | Peak Active | Avg Submit (ms) | Avg Poll (ms) | Avg Total (ms) | Avg Attempts |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
	for _, b := range r.Batches {
		avgSubmit, avgPoll, avgTotal, avgAttempts := "-", "-", "-", "-"
		if b.Metrics != nil {
			avgSubmit = strconv.FormatInt(b.Metrics.Submit.AvgMs, 10)
			avgPoll = strconv.FormatInt(b.Metrics.Poll.AvgMs, 10)
			avgTotal = strconv.FormatInt(b.Metrics.Total.AvgMs, 10)
			avgAttempts = fmt.Sprintf("%.1f", b.Metrics.AvgAttempts)
		}
		sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %.1f%% | %d | %s | %s | %s | %s |\n",
			b.Concurrency, b.TotalTests, b.SuccessfulTests, b.FailedTests,
			b.SuccessRate*100, b.ConcurrencyStats.Peak,
			avgSubmit, avgPoll, avgTotal, avgAttempts))
	}

	s := r.Summary
	sb.WriteString("\n## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- Total batches: %d\n", s.TotalBatches))
	sb.WriteString(fmt.Sprintf("- Total tests: %d\n", s.TotalTests))
	sb.WriteString(fmt.Sprintf("- Successful: %d\n", s.TotalSuccessfulTests))
	sb.WriteString(fmt.Sprintf("- Failed: %d\n", s.TotalFailedTests))
	sb.WriteString(fmt.Sprintf("- Max concurrency tested: %d\n", s.MaxConcurrencyTested))
	sb.WriteString(fmt.Sprintf("- Average success rate: %.2f%%\n", s.AverageSuccessRate*100))
	sb.WriteString(fmt.Sprintf("- Average failure rate: %.2f%%\n", s.AverageFailureRate*100))

	return os.WriteFile(filename, []byte(sb.String()), 0644)
}

// ExportAll writes the JSON, CSV and markdown reports with one prefix.
func ExportAll(r *ramp.Report, prefix string) error {
	if err := ExportJSON(r, prefix+".json"); err != nil {
		return err
	}
	if err := ExportCSV(r, prefix+".csv"); err != nil {
		return err
	}
	return ExportMarkdown(r, prefix+".md")
}
