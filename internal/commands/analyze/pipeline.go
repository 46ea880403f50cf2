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

package analyze

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tombee/statscouncil/internal/approval"
	"github.com/tombee/statscouncil/internal/commands/shared"
	"github.com/tombee/statscouncil/internal/dataset"
	"github.com/tombee/statscouncil/internal/journal"
	"github.com/tombee/statscouncil/internal/report"
	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/internal/sandbox"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

// Mode selects how much of the execution stage runs.
type Mode string

const (
	// ModeFull runs the sandbox with figure and table collection.
	ModeFull Mode = "full"

	// ModeQuick runs the text-only sandbox path on a smaller model.
	ModeQuick Mode = "quick"
)

// stageCouncil is the council surface the pipeline drives.
type stageCouncil interface {
	DataAudit(ctx context.Context, ds *dataset.Dataset, rc run.Context) (*run.StageResult, error)
	Plan(ctx context.Context, ds *dataset.Dataset, rc run.Context, audit string) (*run.StageResult, error)
	VerifyAssumptions(ctx context.Context, ds *dataset.Dataset, plan, userModifications string) (*run.StageResult, error)
	GenerateCode(ctx context.Context, ds *dataset.Dataset, plan, assumptions, userModifications, journalGuidance string) (*run.StageResult, error)
	Review(ctx context.Context, plan, code, results, assumptions string) (*run.StageResult, error)
}

// codeExecutor is the sandbox surface the pipeline drives.
type codeExecutor interface {
	Execute(ctx context.Context, code string, csvData []byte) (*sandbox.Result, error)
	Quick(ctx context.Context, code string, csvData []byte) (string, error)
}

// reportWriter is the writing surface the pipeline drives.
type reportWriter interface {
	Generate(ctx context.Context, req report.Request) (*run.StageResult, error)
}

// pipeline walks the six stages over one record, pausing at each
// approval gate. A re-run decision repeats the stage; approval unlocks
// the next one.
type pipeline struct {
	council  stageCouncil
	executor codeExecutor
	writer   reportWriter
	approver approval.Approver
	record   *run.Record
	ds       *dataset.Dataset
	mode     Mode
	outDir   string
	logger   *slog.Logger
	stdout   io.Writer
	quiet    bool
}

// Run executes every stage in order and exports the bundle at the end.
// Returns the paths written.
func (p *pipeline) Run(ctx context.Context) ([]string, error) {
	for _, stage := range run.Stages() {
		for {
			if !p.quiet {
				fmt.Fprintln(p.stdout, shared.Header.Render("Running "+stage.DisplayName()+"..."))
			}

			res, err := p.execute(ctx, stage)
			if err != nil {
				return nil, err
			}
			if err := p.record.SetResult(res); err != nil {
				return nil, err
			}

			decision, err := p.approver.Review(res)
			if err != nil {
				return nil, err
			}
			if decision.Action == approval.ActionRerun {
				p.logger.Info("stage re-run requested", "stage", stage)
				continue
			}
			if err := p.record.Approve(stage, decision.Modifications); err != nil {
				return nil, err
			}
			break
		}
	}

	paths, err := p.record.WriteBundle(p.outDir)
	if err != nil {
		return nil, err
	}

	if !p.quiet {
		fmt.Fprintln(p.stdout, shared.RenderOK("Analysis complete"))
		fmt.Fprintf(p.stdout, "%s %s\n", shared.RenderLabel("total cost:"), pricing.FormatCost(p.record.TotalCost()))
		for _, path := range paths {
			fmt.Fprintf(p.stdout, "%s %s\n", shared.RenderLabel("wrote:"), path)
		}
	}
	return paths, nil
}

// execute runs one stage using the approved outputs of earlier stages.
func (p *pipeline) execute(ctx context.Context, stage run.Stage) (*run.StageResult, error) {
	switch stage {
	case run.StageDataAudit:
		return p.council.DataAudit(ctx, p.ds, p.record.Context)

	case run.StagePlanning:
		audit, err := p.record.ApprovedOutput(run.StageDataAudit)
		if err != nil {
			return nil, err
		}
		return p.council.Plan(ctx, p.ds, p.record.Context, audit)

	case run.StageAssumptions:
		plan, err := p.record.ApprovedOutput(run.StagePlanning)
		if err != nil {
			return nil, err
		}
		return p.council.VerifyAssumptions(ctx, p.ds, plan, p.modifications(run.StagePlanning))

	case run.StageCode:
		return p.executeCode(ctx)

	case run.StageReview:
		plan, err := p.record.ApprovedOutput(run.StagePlanning)
		if err != nil {
			return nil, err
		}
		assumptions, err := p.record.ApprovedOutput(run.StageAssumptions)
		if err != nil {
			return nil, err
		}
		results, err := p.record.ApprovedOutput(run.StageCode)
		if err != nil {
			return nil, err
		}
		code := p.record.Result(run.StageCode).Extras["code"]
		return p.council.Review(ctx, plan, code, results, assumptions)

	case run.StageWriting:
		return p.executeWriting(ctx)

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// executeCode generates the analysis script, runs it in the sandbox, and
// folds the execution output into the stage result.
func (p *pipeline) executeCode(ctx context.Context) (*run.StageResult, error) {
	plan, err := p.record.ApprovedOutput(run.StagePlanning)
	if err != nil {
		return nil, err
	}
	assumptions, err := p.record.ApprovedOutput(run.StageAssumptions)
	if err != nil {
		return nil, err
	}

	guidance := journal.GetOrGeneric(p.record.Context.JournalFormat).PromptGuidance()
	mods := p.modifications(run.StagePlanning, run.StageAssumptions)

	genRes, err := p.council.GenerateCode(ctx, p.ds, plan, assumptions, mods, guidance)
	if err != nil {
		return nil, err
	}
	code := genRes.Output

	var csvBuf bytes.Buffer
	if err := p.ds.WriteCSV(&csvBuf); err != nil {
		return nil, fmt.Errorf("failed to serialize dataset: %w", err)
	}

	execStart := time.Now()
	res := &run.StageResult{
		Stage:     run.StageCode,
		Extras:    map[string]string{"code": code},
		Artifacts: genRes.Artifacts,
		Models:    genRes.Models,
		Cost:      genRes.Cost,
	}
	if v, ok := genRes.Extras["verification"]; ok {
		res.Extras["verification"] = v
	}

	if p.mode == ModeQuick {
		output, err := p.executor.Quick(ctx, code, csvBuf.Bytes())
		if err != nil {
			return nil, err
		}
		res.Output = output
	} else {
		sres, err := p.executor.Execute(ctx, code, csvBuf.Bytes())
		if err != nil {
			return nil, err
		}
		res.Output = sres.Output
		for _, f := range sres.Figures {
			res.Artifacts = append(res.Artifacts, run.Artifact{Name: f.Name, Kind: run.ArtifactFigure, Data: f.Data})
		}
		for _, f := range sres.Tables {
			res.Artifacts = append(res.Artifacts, run.Artifact{Name: f.Name, Kind: run.ArtifactTable, Data: f.Data})
		}
	}

	res.Duration = genRes.Duration + time.Since(execStart)
	return res, nil
}

// executeWriting assembles the writer request from the approved stages.
func (p *pipeline) executeWriting(ctx context.Context) (*run.StageResult, error) {
	plan, err := p.record.ApprovedOutput(run.StagePlanning)
	if err != nil {
		return nil, err
	}
	results, err := p.record.ApprovedOutput(run.StageCode)
	if err != nil {
		return nil, err
	}
	review, err := p.record.ApprovedOutput(run.StageReview)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]string)
	numFigures := 0
	for _, a := range p.record.Result(run.StageCode).Artifacts {
		switch a.Kind {
		case run.ArtifactTable:
			tables[a.Name] = string(a.Data)
		case run.ArtifactFigure:
			numFigures++
		}
	}

	return p.writer.Generate(ctx, report.Request{
		AnalysisPlan:     plan,
		ExecutionResults: results,
		Tables:           tables,
		NumFigures:       numFigures,
		Review:           review,
		JournalKey:       p.record.Context.JournalFormat,
		StudyDesign:      p.record.Context.StudyDesign,
		SampleSize:       p.ds.Rows,
	})
}

// modifications joins the approval notes attached to the given stages.
func (p *pipeline) modifications(stages ...run.Stage) string {
	var notes []string
	for _, stage := range stages {
		if res := p.record.Result(stage); res != nil && res.UserModifications != "" {
			notes = append(notes, res.UserModifications)
		}
	}
	return strings.Join(notes, "\n")
}
