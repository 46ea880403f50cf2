// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package analyze implements the analyze command: the six-stage
// approval-gated analysis pipeline over a CSV dataset.
package analyze

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/statscouncil/internal/approval"
	"github.com/tombee/statscouncil/internal/commands/shared"
	"github.com/tombee/statscouncil/internal/config"
	"github.com/tombee/statscouncil/internal/council"
	"github.com/tombee/statscouncil/internal/dataset"
	"github.com/tombee/statscouncil/internal/journal"
	"github.com/tombee/statscouncil/internal/log"
	"github.com/tombee/statscouncil/internal/report"
	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/internal/sandbox"
	"github.com/tombee/statscouncil/pkg/llm/providers"
)

type analyzeFlags struct {
	data       string
	question   string
	outcome    string
	exposure   string
	covariates string
	hypotheses string
	context    string
	journalKey string
	design     string
	mode       string
	out        string
	yes        bool
}

// NewCommand creates the analyze command.
func NewCommand() *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the staged analysis pipeline over a CSV dataset",
		Long: `Analyze walks a CSV dataset through six model-driven stages: data
audit, planning council, assumption verification, sandboxed code
execution, adversarial review, and results writing. Each stage pauses
for approval; pass --yes to approve every gate automatically.`,
		Example: `  statscouncil analyze --data study.csv \
      --question "Does BMI predict postoperative complications?" \
      --outcome complication --exposure bmi \
      --design "Retrospective Cohort" --journal jbjs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.data, "data", "", "Path to the CSV dataset (required)")
	cmd.Flags().StringVar(&flags.question, "question", "", "Research question (required)")
	cmd.Flags().StringVar(&flags.outcome, "outcome", "", "Primary outcome variable (required)")
	cmd.Flags().StringVar(&flags.exposure, "exposure", "", "Primary exposure variable (required)")
	cmd.Flags().StringVar(&flags.covariates, "covariates", "", "Comma-separated covariates")
	cmd.Flags().StringVar(&flags.hypotheses, "hypotheses", "", "Study hypotheses")
	cmd.Flags().StringVar(&flags.context, "context", "", "Additional clinical or domain context")
	cmd.Flags().StringVar(&flags.journalKey, "journal", "", "Target journal format (see 'statscouncil formats')")
	cmd.Flags().StringVar(&flags.design, "design", "Auto-detect", "Study design (e.g. 'Retrospective Cohort', 'RCT')")
	cmd.Flags().StringVar(&flags.mode, "mode", string(ModeFull), "Execution mode: full or quick (text-only sandbox)")
	cmd.Flags().StringVar(&flags.out, "out", "", "Output directory for the results bundle")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Approve every stage without prompting")

	for _, name := range []string{"data", "question", "outcome", "exposure"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runAnalyze(cmd *cobra.Command, flags analyzeFlags) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewInvalidInputError("failed to load configuration", err)
	}

	logCfg := log.FromEnv()
	if shared.GetVerbose() {
		logCfg.Level = "debug"
	}
	logger := log.New(logCfg)

	mode := Mode(flags.mode)
	if mode != ModeFull && mode != ModeQuick {
		return shared.NewInvalidInputError(fmt.Sprintf("unknown mode %q (want full or quick)", flags.mode), nil)
	}

	journalKey := flags.journalKey
	if journalKey == "" {
		journalKey = cfg.Pipeline.JournalFormat
	}
	if _, err := journal.Get(journalKey); err != nil {
		return shared.NewInvalidInputError(fmt.Sprintf("unknown journal format %q (see 'statscouncil formats')", journalKey), nil)
	}

	ds, err := dataset.Load(flags.data)
	if err != nil {
		return shared.NewInvalidInputError("failed to load dataset", err)
	}
	for _, col := range []struct{ flag, name string }{
		{"outcome", flags.outcome},
		{"exposure", flags.exposure},
	} {
		if !ds.HasColumn(col.name) {
			return shared.NewInvalidInputError(
				fmt.Sprintf("--%s column %q not found in dataset", col.flag, col.name), nil)
		}
	}

	if cfg.Keys.OpenRouter == "" {
		return shared.NewMissingInputError("OPENROUTER_API_KEY is not set", nil)
	}

	lineup := cfg.Lineup()
	providerOpts := []providers.OpenRouterOption{providers.WithModels(lineup)}
	if cfg.Pipeline.MaxRequestsPerSecond > 0 {
		providerOpts = append(providerOpts, providers.WithRateLimit(cfg.Pipeline.MaxRequestsPerSecond, 1))
	}
	provider, err := providers.NewOpenRouterProvider(cfg.Keys.OpenRouter, providerOpts...)
	if err != nil {
		return shared.NewProviderExitError("failed to create model provider", err)
	}

	panel, err := council.New(provider, lineup,
		council.WithTemperature(cfg.Pipeline.Temperature),
		council.WithLogger(logger))
	if err != nil {
		return shared.NewInvalidInputError("invalid model lineup", err)
	}

	executor, err := sandbox.New(sandbox.Config{
		APIKey:          cfg.Keys.OpenAI,
		PollInterval:    cfg.Sandbox.PollInterval,
		MaxPollInterval: cfg.Sandbox.MaxPollInterval,
		RunTimeout:      cfg.Sandbox.RunTimeout,
		Logger:          logger,
	})
	if err != nil {
		return shared.NewMissingInputError("code execution sandbox unavailable", err)
	}

	writer, err := report.New(provider, lineup, report.WithLogger(logger))
	if err != nil {
		return shared.NewInvalidInputError("invalid model lineup", err)
	}

	var approver approval.Approver = approval.NewInteractiveWithWriter(cmd.OutOrStdout())
	if flags.yes || cfg.Pipeline.Unattended {
		approver = approval.Auto{}
	}

	outDir := flags.out
	if outDir == "" {
		outDir = cfg.Output.Dir
	}

	record := run.New(flags.data, run.Context{
		ResearchQuestion:  flags.question,
		Hypotheses:        flags.hypotheses,
		OutcomeVar:        flags.outcome,
		ExposureVar:       flags.exposure,
		Covariates:        flags.covariates,
		AdditionalContext: flags.context,
		StudyDesign:       flags.design,
		JournalFormat:     journalKey,
	})
	logger = log.WithRunContext(logger, record.ID)
	logger.Info("analysis started",
		"dataset", flags.data,
		"rows", ds.Rows,
		"mode", string(mode),
		"journal", journalKey)

	p := &pipeline{
		council:  panel,
		executor: executor,
		writer:   writer,
		approver: approver,
		record:   record,
		ds:       ds,
		mode:     mode,
		outDir:   outDir,
		logger:   logger,
		stdout:   cmd.OutOrStdout(),
		quiet:    shared.GetQuiet(),
	}

	if _, err := p.Run(cmd.Context()); err != nil {
		return shared.NewAnalysisError("analysis failed", err)
	}
	return nil
}
