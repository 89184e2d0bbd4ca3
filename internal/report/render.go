package report

import (
	"fmt"
	"strings"

	"rampq/internal/ramp"
	"rampq/internal/tui/styles"
)

// RenderSummary builds the styled terminal summary printed after a
// headless run.
func RenderSummary(r *ramp.Report) string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("📊 Ramp Test Complete"))
	s.WriteString("\n\n")

	sum := r.Summary
	overview := fmt.Sprintf(
		"Strategy:       %s\nBatches:        %d\nTotal Tests:    %d\nSuccessful:     %d\nFailed:         %d\nMax Concurrency:%d",
		r.Strategy.Name, sum.TotalBatches, sum.TotalTests, sum.TotalSuccessfulTests, sum.TotalFailedTests, sum.MaxConcurrencyTested,
	)
	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	s.WriteString(styles.Active.Render("Batches"))
	s.WriteString("\n")

	var rows []string
	rows = append(rows, fmt.Sprintf("%-12s %-7s %-5s %-5s %-9s %-5s %-10s", "CONCURRENCY", "TESTS", "OK", "FAIL", "RATE", "PEAK", "AVG TOTAL"))
	for _, b := range r.Batches {
		rate := fmt.Sprintf("%.1f%%", b.SuccessRate*100)
		rateStyled := styles.Success.Render(rate)
		if b.SuccessRate < r.Strategy.SuccessRateThreshold {
			rateStyled = styles.Error.Render(rate)
		}
		avgTotal := "-"
		if b.Metrics != nil {
			avgTotal = fmt.Sprintf("%d ms", b.Metrics.Total.AvgMs)
		}
		rows = append(rows, fmt.Sprintf("%-12d %-7d %-5d %-5d %-18s %-5d %-10s",
			b.Concurrency, b.TotalTests, b.SuccessfulTests, b.FailedTests,
			rateStyled, b.ConcurrencyStats.Peak, avgTotal))
	}
	s.WriteString(styles.Box.Render(strings.Join(rows, "\n")))
	s.WriteString("\n\n")

	if r.Aborted != "" {
		s.WriteString(styles.Error.Render("⚠ Run aborted: " + r.Aborted))
		s.WriteString("\n\n")
	}

	rates := fmt.Sprintf("Avg Success Rate: %.2f%%   Avg Failure Rate: %.2f%%",
		sum.AverageSuccessRate*100, sum.AverageFailureRate*100)
	s.WriteString(styles.Subtle.Render(rates))
	s.WriteString("\n")

	return s.String()
}
