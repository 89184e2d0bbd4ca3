package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rampq/internal/banner"
	"rampq/internal/cli"
	"rampq/internal/config"
	"rampq/internal/dummy"
	"rampq/internal/report"
	"rampq/internal/storage"
	"rampq/internal/tui/app"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	cfgFile string

	// CLI Flags
	uuidURL   string
	submitURL string
	statusURL string
	detailURL string
	headers   []string
	timeout   int

	startConc    int
	maxConc      int
	stepSize     int
	batchDelayMs int
	successRate  float64
	failureRate  float64
	pollAttempts int
	pollEveryMs  int

	payloadPath string
	outPrefix   string
)

var rootCmd = &cobra.Command{
	Use:   "rampq",
	Short: "RampQ - Async Job Concurrency Tester",
	Long: `
RampQ drives asynchronous job-submission APIs through a stepped
concurrency ramp: acquire an identifier, submit, poll to a terminal
status, and raise the batch size until the API stops keeping up.

It supports two main modes:
1. TUI Mode (Default): Interactive Terminal UI
2. CLI Mode (Headless): Run with flags for CI/CD usage`,
}

// Run is assigned in init rather than in the literal above to avoid an
// initialization cycle (runHeadless -> buildConfig -> rootCmd.Flags()).
func init() {
	rootCmd.Run = func(cmd *cobra.Command, args []string) {
		// If the target is given via flags or config, run headless
		if cmd.Flags().Changed("submit-url") || cfgFile != "" {
			runHeadless()
			return
		}

		// Otherwise, run TUI
		runTUI()
	}
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rampq.yaml)")

	rootCmd.Flags().StringVar(&uuidURL, "uuid-url", "", "Identifier acquisition URL")
	rootCmd.Flags().StringVarP(&submitURL, "submit-url", "u", "", "Job submission URL (enables CLI mode)")
	rootCmd.Flags().StringVar(&statusURL, "status-url", "", "Status poll URL template, must contain {job_id}")
	rootCmd.Flags().StringVar(&detailURL, "detail-url", "", "Optional detail URL template, must contain {job_id}")
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "HTTP Header (e.g. \"Key: Value\")")
	rootCmd.Flags().IntVar(&timeout, "timeout", 300, "Request timeout in seconds")

	rootCmd.Flags().IntVarP(&startConc, "start", "s", 2, "Starting concurrency")
	rootCmd.Flags().IntVarP(&maxConc, "max", "m", 16, "Maximum concurrency")
	rootCmd.Flags().IntVar(&stepSize, "step", 2, "Concurrency increase per batch")
	rootCmd.Flags().IntVar(&batchDelayMs, "batch-delay", 5000, "Pause between batches in ms")
	rootCmd.Flags().Float64Var(&successRate, "success-threshold", 0.8, "Stop when batch success rate drops below this")
	rootCmd.Flags().Float64Var(&failureRate, "max-failure-rate", 0.5, "Stop when batch failure rate exceeds this")
	rootCmd.Flags().IntVar(&pollAttempts, "poll-attempts", 100, "Maximum status polls per job")
	rootCmd.Flags().IntVar(&pollEveryMs, "poll-interval", 2000, "Polling interval in ms")

	rootCmd.Flags().StringVarP(&payloadPath, "payload", "b", "", "Path to JSON submission payload template")
	rootCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "Output filename prefix for auto-reporting")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".rampq")
		}
	}
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// --- Runners ---

func runTUI() {
	cfg := config.File{Strategy: config.DefaultStrategy()}

	m := app.NewModel(cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running RampQ: %v\n", err)
		os.Exit(1)
	}
}

func runHeadless() {
	cfg := buildConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	if err := cli.Start(context.Background(), cfg); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

// buildConfig layers flag values over whatever viper read from file.
func buildConfig() config.File {
	cfg := config.File{Strategy: config.DefaultStrategy()}
	viper.Unmarshal(&cfg)

	set := func(target *string, v string) {
		if v != "" {
			*target = v
		}
	}
	set(&cfg.Endpoints.UUIDURL, uuidURL)
	set(&cfg.Endpoints.SubmitURL, submitURL)
	set(&cfg.Endpoints.StatusURLTemplate, statusURL)
	set(&cfg.Endpoints.DetailURLTemplate, detailURL)
	set(&cfg.PayloadPath, payloadPath)
	set(&cfg.OutPrefix, outPrefix)

	if cfg.Endpoints.TimeoutSec == 0 {
		cfg.Endpoints.TimeoutSec = timeout
	}

	if len(headers) > 0 {
		if cfg.Endpoints.Headers == nil {
			cfg.Endpoints.Headers = make(map[string]string)
		}
		for _, h := range headers {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) == 2 {
				cfg.Endpoints.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
			}
		}
	}

	// Flags win over config file only when explicitly changed; the
	// defaults above already match DefaultStrategy.
	f := rootCmd.Flags()
	if f.Changed("start") {
		cfg.Strategy.StartConcurrency = startConc
	}
	if f.Changed("max") {
		cfg.Strategy.MaxConcurrency = maxConc
	}
	if f.Changed("step") {
		cfg.Strategy.StepSize = stepSize
	}
	if f.Changed("batch-delay") {
		cfg.Strategy.BatchDelayMs = batchDelayMs
	}
	if f.Changed("success-threshold") {
		cfg.Strategy.SuccessRateThreshold = successRate
	}
	if f.Changed("max-failure-rate") {
		cfg.Strategy.MaxFailureRate = failureRate
	}
	if f.Changed("poll-attempts") {
		cfg.Strategy.MaxPollingAttempts = pollAttempts
	}
	if f.Changed("poll-interval") {
		cfg.Strategy.PollingIntervalMs = pollEveryMs
	}
	if cfg.Strategy.Name == "" {
		cfg.Strategy.Name = "cli"
	}

	return cfg
}

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run internal dummy job server",
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		failRate, _ := cmd.Flags().GetFloat64("failure-rate")
		execFor, _ := cmd.Flags().GetInt("executing-ms")
		dummy.Start(dummy.ServerConfig{
			Port:         port,
			FailureRate:  failRate,
			ExecutingFor: time.Duration(execFor) * time.Millisecond,
		})
		select {}
	},
}

// --- History Subcommand ---
var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "List saved runs, or print one run's summary (short IDs from the listing work)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(report.RenderSummary(&item.Report))
			return nil
		}

		items := store.List()
		if len(items) == 0 {
			fmt.Println("No saved runs yet.")
			return nil
		}
		for _, item := range items {
			s := item.Report.Summary
			fmt.Printf("%s  %s  strategy=%s  batches=%d  max=%d  success=%.1f%%\n",
				item.ID[:8], item.Timestamp.Format("2006-01-02 15:04:05"),
				item.Strategy, s.TotalBatches, s.MaxConcurrencyTested,
				s.AverageSuccessRate*100)
		}
		return nil
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	dummyCmd.Flags().Float64("failure-rate", 0.0, "Fraction of jobs that end FAILED")
	dummyCmd.Flags().Int("executing-ms", 2000, "How long jobs stay EXECUTING in ms")
}
