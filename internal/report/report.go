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

// Package report produces the final manuscript sections with the writer
// seat and renders them into a Word document. The methods, results,
// figure legends, and limitations sections are each one model call; the
// document falls back to plain text if docx rendering fails.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/statscouncil/internal/journal"
	"github.com/tombee/statscouncil/internal/prompts"
	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/llm"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

// writingTemperature balances fluency against fabrication risk.
const writingTemperature = 0.3

// Context limits keep the writer prompts inside the model window.
const (
	maxTableChars   = 2000
	maxResultsChars = 3000
)

// Writer generates the manuscript sections.
type Writer struct {
	provider    llm.Provider
	model       llm.ModelInfo
	temperature float64
	logger      *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithTemperature overrides the writing temperature.
func WithTemperature(t float64) Option {
	return func(w *Writer) { w.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// New creates a report writer. The lineup must fill the writer seat.
func New(provider llm.Provider, lineup []llm.ModelInfo, opts ...Option) (*Writer, error) {
	if provider == nil {
		return nil, &errors.ValidationError{Field: "provider", Message: "provider is required"}
	}
	writers := llm.GetModelsBySeat(lineup, llm.SeatWriter)
	if len(writers) == 0 {
		return nil, &errors.ValidationError{
			Field:      "lineup",
			Message:    "no model configured for the writer seat",
			Suggestion: "Check the models section of your configuration",
		}
	}

	w := &Writer{
		provider:    provider,
		model:       writers[0],
		temperature: writingTemperature,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Request carries everything the writing stage needs from earlier stages.
type Request struct {
	// AnalysisPlan is the approved synthesis from the planning council.
	AnalysisPlan string

	// ExecutionResults is the text output of the sandbox run.
	ExecutionResults string

	// Tables maps table file names to their CSV content.
	Tables map[string]string

	// NumFigures is how many figures the analysis produced.
	NumFigures int

	// Review is the approved adversarial review.
	Review string

	// JournalKey selects the target journal's conventions.
	JournalKey string

	// StudyDesign determines the reporting guideline.
	StudyDesign string

	// SampleSize is the dataset row count.
	SampleSize int
}

// reportingGuidelines maps study designs to their reporting guideline.
var reportingGuidelines = map[string]string{
	"Retrospective Cohort": "STROBE (Strengthening the Reporting of Observational Studies in Epidemiology)",
	"Prospective Cohort":   "STROBE",
	"Case-Control":         "STROBE",
	"Cross-sectional":      "STROBE",
	"RCT":                  "CONSORT (Consolidated Standards of Reporting Trials)",
	"Case Series":          "CARE (Case Report Guidelines)",
	"Prediction Model":     "TRIPOD (Transparent Reporting of a Multivariable Prediction Model)",
	"Auto-detect":          "STROBE",
}

// ReportingGuideline returns the reporting guideline for a study design,
// defaulting to STROBE for unknown designs.
func ReportingGuideline(studyDesign string) string {
	if g, ok := reportingGuidelines[studyDesign]; ok {
		return g
	}
	return "STROBE"
}

// sections holds the four generated manuscript parts.
type sections struct {
	Methods     string
	Results     string
	Legends     string
	Limitations string
}

// Generate produces all four sections and the report document.
func (w *Writer) Generate(ctx context.Context, req Request) (*run.StageResult, error) {
	start := time.Now()

	jf := journal.GetOrGeneric(req.JournalKey)
	guidance := jf.PromptGuidance()
	guideline := ReportingGuideline(req.StudyDesign)

	system, err := prompts.System("writing_system")
	if err != nil {
		return nil, err
	}

	tableSummaries, err := summarizeTables(req.Tables)
	if err != nil {
		return nil, err
	}

	var secs sections
	var total *pricing.CostInfo

	calls := []struct {
		template string
		data     any
		dest     *string
	}{
		{
			template: "methods_writing",
			data: prompts.MethodsWriting{
				AnalysisPlan:       req.AnalysisPlan,
				StudyDesign:        req.StudyDesign,
				ReportingGuideline: guideline,
				JournalFormat:      guidance,
				SampleSize:         fmt.Sprintf("%d", req.SampleSize),
			},
			dest: &secs.Methods,
		},
		{
			template: "results_writing",
			data: prompts.ResultsWriting{
				ExecutionResults:   req.ExecutionResults,
				TableSummaries:     tableSummaries,
				NumFigures:         req.NumFigures,
				JournalFormat:      guidance,
				ReportingGuideline: guideline,
			},
			dest: &secs.Results,
		},
		{
			template: "figure_legends",
			data: prompts.FigureLegends{
				NumFigures:       req.NumFigures,
				ExecutionResults: truncate(req.ExecutionResults, maxResultsChars),
				JournalFormat:    guidance,
			},
			dest: &secs.Legends,
		},
		{
			template: "limitations_writing",
			data: prompts.LimitationsWriting{
				StudyDesign:  req.StudyDesign,
				Review:       req.Review,
				AnalysisPlan: req.AnalysisPlan,
			},
			dest: &secs.Limitations,
		},
	}

	for _, call := range calls {
		user, err := prompts.Render(call.template, call.data)
		if err != nil {
			return nil, err
		}
		text, cost, err := w.call(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", strings.ReplaceAll(call.template, "_", " "), err)
		}
		*call.dest = text
		total = pricing.Add(total, cost)
	}

	artifact := w.renderArtifact(secs)

	return &run.StageResult{
		Stage:  run.StageWriting,
		Output: secs.plainText(),
		Extras: map[string]string{
			"methods":     secs.Methods,
			"results":     secs.Results,
			"legends":     secs.Legends,
			"limitations": secs.Limitations,
		},
		Artifacts: []run.Artifact{artifact},
		Models:    []string{w.model.ID},
		Cost:      total,
		Duration:  time.Since(start),
	}, nil
}

// renderArtifact builds the docx report, falling back to plain text when
// rendering fails.
func (w *Writer) renderArtifact(secs sections) run.Artifact {
	data, err := renderDocx(secs)
	if err != nil {
		w.logger.Warn("docx rendering failed, falling back to plain text", "error", err)
		return run.Artifact{
			Name: "analysis_report.txt",
			Kind: run.ArtifactReport,
			Data: []byte(secs.plainText()),
		}
	}
	return run.Artifact{
		Name: "analysis_report.docx",
		Kind: run.ArtifactReport,
		Data: data,
	}
}

// call performs one writer completion and prices it.
func (w *Writer) call(ctx context.Context, system, user string) (string, *pricing.CostInfo, error) {
	temp := w.temperature
	maxTokens := w.model.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	resp, err := w.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: system},
			{Role: llm.MessageRoleUser, Content: user},
		},
		Model:       w.model.ID,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", nil, err
	}

	cost := pricing.CalculateCost(&pricing.ModelPricing{
		InputPricePerMillion:  w.model.InputPricePerMillion,
		OutputPricePerMillion: w.model.OutputPricePerMillion,
	}, pricing.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	})
	return resp.Content, cost, nil
}

// summarizeTables encodes truncated table contents as indented JSON for
// the results prompt.
func summarizeTables(tables map[string]string) (string, error) {
	if len(tables) == 0 {
		return "{}", nil
	}
	truncated := make(map[string]string, len(tables))
	for name, content := range tables {
		truncated[name] = truncate(content, maxTableChars)
	}
	data, err := json.MarshalIndent(truncated, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode table summaries: %w", err)
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// plainText joins the sections under uppercase headings, matching the
// fallback document layout.
func (s sections) plainText() string {
	return fmt.Sprintf("METHODS\n\n%s\n\nRESULTS\n\n%s\n\nFIGURE LEGENDS\n\n%s\n\nLIMITATIONS\n\n%s",
		s.Methods, s.Results, s.Legends, s.Limitations)
}
