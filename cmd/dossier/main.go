// Command dossier runs one recursive research run against a natural
// language question and writes its run directory to disk.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/basegraphhq/dossier/common/logger"
	llmc "github.com/basegraphhq/dossier/common/llm"
	"github.com/basegraphhq/dossier/common/otel"
	"github.com/basegraphhq/dossier/core/config"
	"github.com/basegraphhq/dossier/internal/model"
	"github.com/basegraphhq/dossier/internal/run"
	"github.com/basegraphhq/dossier/internal/source"
	"github.com/basegraphhq/dossier/internal/source/adapters/docarchive"
	"github.com/basegraphhq/dossier/internal/source/adapters/websearch"
)

// Exit codes: 0 completed, 1 configuration error, 2 failed, 3 cancelled
// (time/cost/user cancellation).
const (
	exitOK            = 0
	exitConfigError   = 1
	exitGoalFailed    = 2
	exitGoalCancelled = 3
)

var (
	flagConfigFile    string
	flagMaxDepth      int
	flagMaxTime       time.Duration
	flagMaxGoals      int
	flagMaxCostUSD    float64
	flagMaxConcurrent int
	flagOutDir        string
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dossier [question]",
		Short: "Run a recursive, multi-source research dossier on a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCmd(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	cmd.Flags().IntVar(&flagMaxDepth, "max-depth", 0, "override maximum decomposition depth (unset = config value; an explicit 0 is applied)")
	cmd.Flags().DurationVar(&flagMaxTime, "max-time", 0, "override the wall-clock budget for the run (unset = config value; an explicit 0 is applied)")
	cmd.Flags().IntVar(&flagMaxGoals, "max-goals", 0, "override the maximum number of goals the run may create (unset = config value; an explicit 0 is applied)")
	cmd.Flags().Float64Var(&flagMaxCostUSD, "max-cost", 0, "override the dollar cost budget for the run (unset = config value; an explicit 0 is applied)")
	cmd.Flags().IntVar(&flagMaxConcurrent, "max-concurrent", 0, "override the maximum number of goals pursued concurrently (unset = config value; an explicit 0 is applied)")
	cmd.Flags().StringVar(&flagOutDir, "out-dir", "", "override the directory run output is written under")

	return cmd
}

func runCmd(cmd *cobra.Command, question string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return fmt.Errorf("dossier: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("dossier: otel setup: %w", err)
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetry.Shutdown(shutdownCtx)
		}()
	}

	logger.Setup(cfg)

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("dossier: environment variable %s is required", cfg.LLM.APIKeyEnv)
	}
	llmClient, err := llmc.New(llmc.Config{
		APIKey:  apiKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("dossier: build llm client: %w", err)
	}

	registry := buildRegistry(cfg)

	result, err := run.Run(ctx, question, cfg.Limits, run.Options{
		LLM:      llmClient,
		Registry: registry,
		OutDir:   cfg.OutDir,
		DebugDir: os.Getenv("DOSSIER_DEBUG_DIR"),
	})
	if err != nil {
		return fmt.Errorf("dossier: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Run written to %s\n", result.RunDir)
	fmt.Println(result.ReportMarkdown)

	switch result.Metadata.Status {
	case model.GoalCompleted:
		os.Exit(exitOK)
	case model.GoalCancelled:
		os.Exit(exitGoalCancelled)
	default:
		os.Exit(exitGoalFailed)
	}
	return nil
}

// applyFlagOverrides merges any explicitly-passed CLI flag onto the loaded
// config, the last layer of the defaults -> file -> env -> flags order.
// Explicitness is determined by cmd.Flags().Changed, not by comparing
// against the flag's zero value, so --max-depth 0 or --max-cost 0 are
// honored as real overrides rather than silently falling back to the
// config default.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-depth") {
		cfg.Limits.MaxDepth = flagMaxDepth
	}
	if flags.Changed("max-time") {
		cfg.Limits.MaxTime = flagMaxTime
	}
	if flags.Changed("max-goals") {
		cfg.Limits.MaxGoals = flagMaxGoals
	}
	if flags.Changed("max-cost") {
		cfg.Limits.MaxCostUSD = flagMaxCostUSD
	}
	if flags.Changed("max-concurrent") {
		cfg.Limits.MaxConcurrent = flagMaxConcurrent
	}
	if flags.Changed("out-dir") {
		cfg.OutDir = flagOutDir
	}
}

// buildRegistry registers every adapter this module ships, gated by the
// per-source feature flag in config.Sources. A disabled or unconfigured
// source is still registered so the assessor's source list can name it;
// Registry.Get simply returns ErrDisabled for it.
func buildRegistry(cfg config.Config) *source.Registry {
	registry := source.NewRegistry(nil)

	docSrc := cfg.Sources["docarchive"]
	registry.Register(
		source.Metadata{
			ID:              "docarchive",
			DisplayName:     "Internal Document Archive",
			Category:        "document_repository",
			RequiresAPIKey:  true,
			APIKeyEnvVar:    docSrc.APIKeyEnv,
			QueryStrategies: []string{"keyword"},
		},
		docSrc.Enabled,
		docarchive.New(docarchive.Config{
			ServerURL: os.Getenv("DOCARCHIVE_URL"),
			APIKey:    os.Getenv(docSrc.APIKeyEnv),
		}),
	)

	webSrc := cfg.Sources["websearch"]
	registry.Register(
		source.Metadata{
			ID:              "websearch",
			DisplayName:     "Web Search",
			Category:        "web_search",
			RequiresAPIKey:  true,
			APIKeyEnvVar:    webSrc.APIKeyEnv,
			QueryStrategies: []string{"keyword"},
		},
		webSrc.Enabled,
		websearch.New(websearch.Config{
			APIEndpoint: os.Getenv("WEBSEARCH_API_ENDPOINT"),
			APIKey:      os.Getenv(webSrc.APIKeyEnv),
		}),
	)

	return registry
}
