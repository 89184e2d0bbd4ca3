package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rampq/internal/config"
	"rampq/internal/monitor"
	"rampq/internal/ramp"
	"rampq/internal/report"
	"rampq/internal/storage"
	"rampq/internal/workflow"
)

// Start runs a full ramp in headless mode: progress on stdout, summary
// at the end, optional file reports and history persistence.
func Start(ctx context.Context, cfg config.File) error {
	printHeader(cfg)

	payload, err := loadPayload(cfg.PayloadPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(io.Discard) // progress line owns the terminal

	client := workflow.NewClient(cfg.Endpoints, payload, log)
	mon := monitor.New(cfg.Strategy.AlertThreshold, log)
	updates := make(ramp.UpdateChan, 100)
	ctrl := ramp.NewController(client, cfg.Strategy, mon, log, updates)

	type outcome struct {
		report *ramp.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := ctrl.Run(ctx)
		done <- outcome{r, err}
	}()

	startTime := time.Now()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	// Wait on the outcome channel, not on the Done snapshot, so a
	// backlogged updates buffer can never strand the loop.
	var last ramp.Snapshot
	var out outcome
	for waiting := true; waiting; {
		select {
		case snap := <-updates:
			last = snap
		case out = <-done:
			waiting = false
		case <-ticker.C:
			printProgress(last, time.Since(startTime))
		}
	}

	// Pick up snapshots still queued so the final line is accurate.
drain:
	for {
		select {
		case last = <-updates:
		default:
			break drain
		}
	}
	printProgress(last, time.Since(startTime))
	if out.report == nil {
		return out.err
	}

	fmt.Println()
	fmt.Println(report.RenderSummary(out.report))

	handleAutoReport(out.report, cfg.OutPrefix)
	saveHistory(out.report)

	return out.err
}

func loadPayload(path string) (*workflow.PayloadSource, error) {
	if path == "" {
		return workflow.NewPayloadSource(), nil
	}
	return workflow.LoadPayloadFile(path)
}

func printHeader(cfg config.File) {
	s := cfg.Strategy
	fmt.Printf("\n🚀 STARTING RAMPQ CONCURRENCY TEST\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Submit URL : %s\n", cfg.Endpoints.SubmitURL)
	fmt.Printf("Status URL : %s\n", cfg.Endpoints.StatusURLTemplate)
	fmt.Printf("Strategy   : %s\n", s.Name)
	fmt.Printf("Ramp       : %d -> %d (step %d, %s between batches)\n",
		s.StartConcurrency, s.MaxConcurrency, s.StepSize, s.BatchDelay())
	fmt.Printf("Polling    : every %s, up to %d attempts\n", s.PollingInterval(), s.MaxPollingAttempts)
	fmt.Printf("Stop rule  : success < %.0f%% or failure > %.0f%%\n",
		s.SuccessRateThreshold*100, s.MaxFailureRate*100)
	fmt.Printf("======================================================================\n\n")
}

func printProgress(snap ramp.Snapshot, elapsed time.Duration) {
	if snap.TotalLevels == 0 {
		fmt.Printf("\r%s | starting...", elapsed.Round(time.Second))
		return
	}

	pct := 0.0
	if snap.Total > 0 {
		pct = float64(snap.Completed) / float64(snap.Total)
	}

	fmt.Printf("\r%s %3.0f%% | Batch %d/%d @ %d | %s | Done: %d/%d | Active: %d (peak %d) | OK: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		snap.LevelIndex+1, snap.TotalLevels, snap.Level,
		elapsed.Round(time.Second),
		snap.Completed, snap.Total,
		snap.Active, snap.Peak,
		snap.Successes, snap.Failures,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func handleAutoReport(r *ramp.Report, prefix string) {
	if prefix == "" {
		return
	}

	fmt.Printf("\n💾 Generating reports with prefix: %s\n", prefix)
	if err := report.ExportAll(r, prefix); err != nil {
		fmt.Printf("⚠️  Report export failed: %v\n", err)
		return
	}
	fmt.Printf("✅ Reports saved to %s.{json,csv,md}\n", prefix)
}

func saveHistory(r *ramp.Report) {
	store, err := storage.NewStore()
	if err != nil {
		fmt.Printf("⚠️  History unavailable: %v\n", err)
		return
	}
	defer store.Close()

	item := storage.HistoryItem{
		ID:        uuid.New().String(),
		Timestamp: r.Timestamp,
		Strategy:  r.Strategy.Name,
		Report:    *r,
	}
	if err := store.Save(item); err != nil {
		fmt.Printf("⚠️  Could not save run history: %v\n", err)
	}
}
