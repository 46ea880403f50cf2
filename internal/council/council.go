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

// Package council convenes the model panel for each analysis stage.
// Each stage method performs the model calls for that stage and returns
// a StageResult ready to record: the data audit, the multi-planner
// council with synthesis, assumption verification, code generation with
// review, and the adversarial review.
package council

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/statscouncil/internal/dataset"
	"github.com/tombee/statscouncil/internal/prompts"
	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/llm"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

const (
	// defaultMaxTokens bounds stage completions unless the model's
	// lineup entry sets its own limit.
	defaultMaxTokens = 4096

	// codeGenTemperature keeps generated scripts deterministic.
	codeGenTemperature = 0.0

	// reviewTemperature makes adversarial reviewers explore harder.
	reviewTemperature = 0.7
)

// Council performs the model calls for each pipeline stage.
type Council struct {
	provider    llm.Provider
	lineup      []llm.ModelInfo
	temperature float64
	logger      *slog.Logger
}

// Option configures a Council.
type Option func(*Council)

// WithTemperature sets the default sampling temperature for stage calls.
func WithTemperature(t float64) Option {
	return func(c *Council) { c.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Council) { c.logger = l }
}

// New creates a council over the given provider and model lineup. The
// lineup must fill the audit, planner, reasoner, and synthesis seats.
func New(provider llm.Provider, lineup []llm.ModelInfo, opts ...Option) (*Council, error) {
	if provider == nil {
		return nil, &errors.ValidationError{Field: "provider", Message: "provider is required"}
	}
	for _, seat := range []llm.Seat{llm.SeatAudit, llm.SeatPlanner, llm.SeatReasoner, llm.SeatSynthesis} {
		if len(llm.GetModelsBySeat(lineup, seat)) == 0 {
			return nil, &errors.ValidationError{
				Field:      "lineup",
				Message:    fmt.Sprintf("no model configured for the %s seat", seat),
				Suggestion: "Check the models section of your configuration",
			}
		}
	}

	c := &Council{
		provider:    provider,
		lineup:      lineup,
		temperature: 0.2,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// seat returns the first model holding the given seat.
func (c *Council) seat(s llm.Seat) llm.ModelInfo {
	return llm.GetModelsBySeat(c.lineup, s)[0]
}

// call performs one completion against a lineup model and prices it.
func (c *Council) call(ctx context.Context, m llm.ModelInfo, system, user string, temperature float64) (string, *pricing.CostInfo, error) {
	maxTokens := defaultMaxTokens
	if m.MaxOutputTokens > 0 {
		maxTokens = m.MaxOutputTokens
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: system},
			{Role: llm.MessageRoleUser, Content: user},
		},
		Model:       m.ID,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", nil, err
	}

	cost := pricing.CalculateCost(&pricing.ModelPricing{
		InputPricePerMillion:  m.InputPricePerMillion,
		OutputPricePerMillion: m.OutputPricePerMillion,
	}, pricing.TokenUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	})

	c.logger.Debug("model call complete",
		"model", m.ID,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"cost", pricing.FormatCost(cost))

	return resp.Content, cost, nil
}

// DataAudit runs the stage-1 data quality audit with the audit seat.
func (c *Council) DataAudit(ctx context.Context, ds *dataset.Dataset, rc run.Context) (*run.StageResult, error) {
	start := time.Now()
	m := c.seat(llm.SeatAudit)

	system, err := prompts.System("data_audit_system")
	if err != nil {
		return nil, err
	}
	user, err := prompts.Render("data_audit_user", prompts.DataAudit{
		DataSummary:      ds.Summary(),
		ResearchQuestion: rc.ResearchQuestion,
		OutcomeVar:       rc.OutcomeVar,
		ExposureVar:      rc.ExposureVar,
	})
	if err != nil {
		return nil, err
	}

	text, cost, err := c.call(ctx, m, system, user, c.temperature)
	if err != nil {
		return nil, fmt.Errorf("data audit failed: %w", err)
	}

	return &run.StageResult{
		Stage:    run.StageDataAudit,
		Output:   text,
		Models:   []string{m.ID},
		Cost:     cost,
		Duration: time.Since(start),
	}, nil
}

// Plan convenes the planning council: every planner seat proposes a plan
// in parallel, then the synthesis seat merges the proposals. The result's
// Output is the synthesis; each proposal and any extracted disagreement
// text land in Extras.
func (c *Council) Plan(ctx context.Context, ds *dataset.Dataset, rc run.Context, auditText string) (*run.StageResult, error) {
	start := time.Now()
	planners := llm.GetModelsBySeat(c.lineup, llm.SeatPlanner)

	system, err := prompts.System("planning_system")
	if err != nil {
		return nil, err
	}
	user, err := prompts.Render("planning_user", prompts.Planning{
		DataSummary:      ds.Summary(),
		DataAudit:        auditText,
		ResearchQuestion: rc.ResearchQuestion,
		Hypotheses:       rc.Hypotheses,
		OutcomeVar:       rc.OutcomeVar,
		ExposureVar:      rc.ExposureVar,
		Covariates:       rc.Covariates,
		StudyDesign:      rc.StudyDesign,
	})
	if err != nil {
		return nil, err
	}

	proposals := make([]string, len(planners))
	costs := make([]*pricing.CostInfo, len(planners))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range planners {
		g.Go(func() error {
			text, cost, err := c.call(gctx, m, system, user, c.temperature)
			if err != nil {
				return fmt.Errorf("planner %s failed: %w", m.Name, err)
			}
			proposals[i] = text
			costs[i] = cost
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total *pricing.CostInfo
	models := make([]string, 0, len(planners)+1)
	extras := make(map[string]string, len(planners)+1)
	byName := make(map[string]string, len(planners))
	for i, m := range planners {
		total = pricing.Add(total, costs[i])
		models = append(models, m.ID)
		extras["plan:"+m.Name] = proposals[i]
		byName[m.Name] = proposals[i]
	}

	plansJSON, err := json.MarshalIndent(byName, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode council proposals: %w", err)
	}

	synthSystem, err := prompts.System("synthesis_system")
	if err != nil {
		return nil, err
	}
	synthUser, err := prompts.Render("synthesis_user", prompts.Synthesis{
		Plans:            string(plansJSON),
		ResearchQuestion: rc.ResearchQuestion,
	})
	if err != nil {
		return nil, err
	}

	synth := c.seat(llm.SeatSynthesis)
	synthesis, synthCost, err := c.call(ctx, synth, synthSystem, synthUser, c.temperature)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	total = pricing.Add(total, synthCost)
	models = append(models, synth.ID)

	if d := extractDisagreements(synthesis); d != "" {
		extras["disagreements"] = d
	}

	return &run.StageResult{
		Stage:    run.StagePlanning,
		Output:   synthesis,
		Extras:   extras,
		Models:   models,
		Cost:     total,
		Duration: time.Since(start),
	}, nil
}

// VerifyAssumptions runs the stage-3 assumption check with the reasoner.
func (c *Council) VerifyAssumptions(ctx context.Context, ds *dataset.Dataset, plan, userModifications string) (*run.StageResult, error) {
	start := time.Now()
	m := c.seat(llm.SeatReasoner)

	system, err := prompts.System("assumptions_system")
	if err != nil {
		return nil, err
	}
	user, err := prompts.Render("assumptions_user", prompts.Assumptions{
		DataSummary:       ds.Summary(),
		AnalysisPlan:      plan,
		UserModifications: userModifications,
	})
	if err != nil {
		return nil, err
	}

	text, cost, err := c.call(ctx, m, system, user, c.temperature)
	if err != nil {
		return nil, fmt.Errorf("assumption verification failed: %w", err)
	}

	return &run.StageResult{
		Stage:    run.StageAssumptions,
		Output:   text,
		Models:   []string{m.ID},
		Cost:     cost,
		Duration: time.Since(start),
	}, nil
}

// GenerateCode produces the analysis script with the synthesis seat at
// temperature zero, then has the reasoner review it. If the review flags
// errors, the notes are prepended to the script as comments and the run
// proceeds. The script is attached as an artifact.
func (c *Council) GenerateCode(ctx context.Context, ds *dataset.Dataset, plan, assumptions, userModifications, journalGuidance string) (*run.StageResult, error) {
	start := time.Now()
	gen := c.seat(llm.SeatSynthesis)
	reviewer := c.seat(llm.SeatReasoner)

	system, err := prompts.System("code_gen_system")
	if err != nil {
		return nil, err
	}
	user, err := prompts.Render("code_gen_user", prompts.CodeGen{
		DataSummary:       ds.Summary(),
		ColumnList:        strings.Join(ds.ColumnNames(), ", "),
		AnalysisPlan:      plan,
		Assumptions:       assumptions,
		UserModifications: userModifications,
		JournalFormat:     journalGuidance,
	})
	if err != nil {
		return nil, err
	}

	response, genCost, err := c.call(ctx, gen, system, user, codeGenTemperature)
	if err != nil {
		return nil, fmt.Errorf("code generation failed: %w", err)
	}
	code := extractCode(response)

	verifySystem, err := prompts.System("code_verify_system")
	if err != nil {
		return nil, err
	}
	verifyUser, err := prompts.Render("code_verify_user", prompts.CodeVerify{
		Code:         code,
		AnalysisPlan: plan,
	})
	if err != nil {
		return nil, err
	}

	verification, verifyCost, err := c.call(ctx, reviewer, verifySystem, verifyUser, c.temperature)
	if err != nil {
		return nil, fmt.Errorf("code verification failed: %w", err)
	}

	// Flagged problems are noted in the script header; execution still
	// proceeds and the adversarial review sees the notes.
	upper := strings.ToUpper(verification)
	if strings.Contains(upper, "ERROR") || strings.Contains(upper, "BUG") {
		notes := verification
		if len(notes) > 500 {
			notes = notes[:500]
		}
		code = fmt.Sprintf("# VERIFICATION NOTES:\n# %s\n\n%s", notes, code)
	}

	return &run.StageResult{
		Stage:  run.StageCode,
		Output: code,
		Extras: map[string]string{"verification": verification},
		Artifacts: []run.Artifact{
			{Name: "analysis_script.py", Kind: run.ArtifactScript, Data: []byte(code)},
		},
		Models:   []string{gen.ID, reviewer.ID},
		Cost:     pricing.Add(genCost, verifyCost),
		Duration: time.Since(start),
	}, nil
}

// Review runs the stage-5 adversarial review: the audit and reasoner
// seats each attack the completed analysis at high temperature. Extracted
// issues and an overall confidence grade land in Extras.
func (c *Council) Review(ctx context.Context, plan, code, results, assumptions string) (*run.StageResult, error) {
	start := time.Now()
	reviewers := []llm.ModelInfo{c.seat(llm.SeatAudit), c.seat(llm.SeatReasoner)}

	system, err := prompts.System("adversarial_system")
	if err != nil {
		return nil, err
	}
	user, err := prompts.Render("adversarial_user", prompts.Adversarial{
		AnalysisPlan: plan,
		Code:         code,
		Results:      results,
		Assumptions:  assumptions,
	})
	if err != nil {
		return nil, err
	}

	reviews := make([]string, len(reviewers))
	costs := make([]*pricing.CostInfo, len(reviewers))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range reviewers {
		g.Go(func() error {
			text, cost, err := c.call(gctx, m, system, user, reviewTemperature)
			if err != nil {
				return fmt.Errorf("reviewer %s failed: %w", m.Name, err)
			}
			reviews[i] = text
			costs[i] = cost
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var combined strings.Builder
	var total *pricing.CostInfo
	models := make([]string, 0, len(reviewers))
	for i, m := range reviewers {
		if i > 0 {
			combined.WriteString("\n\n")
		}
		fmt.Fprintf(&combined, "## Review %d (%s)\n%s", i+1, m.Name, reviews[i])
		total = pricing.Add(total, costs[i])
		models = append(models, m.ID)
	}

	review := combined.String()
	issues := extractIssues(review)
	confidence := determineConfidence(review, issues)

	extras := map[string]string{"confidence": confidence}
	if issues != "" {
		extras["issues"] = issues
	}

	return &run.StageResult{
		Stage:    run.StageReview,
		Output:   review,
		Extras:   extras,
		Models:   models,
		Cost:     total,
		Duration: time.Since(start),
	}, nil
}
