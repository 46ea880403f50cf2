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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/statscouncil/internal/approval"
	"github.com/tombee/statscouncil/internal/dataset"
	"github.com/tombee/statscouncil/internal/report"
	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/internal/sandbox"
)

// fakeCouncil returns canned results and records the inputs it saw.
type fakeCouncil struct {
	planCalls     int
	reviewCode    string
	reviewResults string
	codeMods      string
}

func (f *fakeCouncil) DataAudit(_ context.Context, _ *dataset.Dataset, _ run.Context) (*run.StageResult, error) {
	return &run.StageResult{Stage: run.StageDataAudit, Output: "audit report"}, nil
}

func (f *fakeCouncil) Plan(_ context.Context, _ *dataset.Dataset, _ run.Context, audit string) (*run.StageResult, error) {
	f.planCalls++
	return &run.StageResult{Stage: run.StagePlanning, Output: "synthesized plan (saw: " + audit + ")"}, nil
}

func (f *fakeCouncil) VerifyAssumptions(_ context.Context, _ *dataset.Dataset, _, _ string) (*run.StageResult, error) {
	return &run.StageResult{Stage: run.StageAssumptions, Output: "assumptions hold"}, nil
}

func (f *fakeCouncil) GenerateCode(_ context.Context, _ *dataset.Dataset, _, _, mods, _ string) (*run.StageResult, error) {
	f.codeMods = mods
	return &run.StageResult{
		Stage:  run.StageCode,
		Output: "print('analysis')",
		Extras: map[string]string{"verification": "looks fine"},
		Artifacts: []run.Artifact{
			{Name: "analysis_script.py", Kind: run.ArtifactScript, Data: []byte("print('analysis')")},
		},
	}, nil
}

func (f *fakeCouncil) Review(_ context.Context, _, code, results, _ string) (*run.StageResult, error) {
	f.reviewCode = code
	f.reviewResults = results
	return &run.StageResult{
		Stage:  run.StageReview,
		Output: "adversarial review",
		Extras: map[string]string{"confidence": "HIGH"},
	}, nil
}

type fakeExecutor struct {
	executed  bool
	quickRun  bool
	sawCSV    []byte
	sawScript string
}

func (f *fakeExecutor) Execute(_ context.Context, code string, csvData []byte) (*sandbox.Result, error) {
	f.executed = true
	f.sawScript = code
	f.sawCSV = csvData
	return &sandbox.Result{
		Output:  "OR 1.42, P = .002",
		Figures: []sandbox.File{{Name: "figure_1.png", Data: []byte{0x89, 0x50}}},
		Tables:  []sandbox.File{{Name: "table_1.csv", Data: []byte("var,n\nage,3\n")}},
	}, nil
}

func (f *fakeExecutor) Quick(_ context.Context, code string, csvData []byte) (string, error) {
	f.quickRun = true
	f.sawScript = code
	f.sawCSV = csvData
	return "quick output", nil
}

type fakeWriter struct {
	sawReq report.Request
}

func (f *fakeWriter) Generate(_ context.Context, req report.Request) (*run.StageResult, error) {
	f.sawReq = req
	return &run.StageResult{
		Stage:  run.StageWriting,
		Output: "manuscript",
		Artifacts: []run.Artifact{
			{Name: "analysis_report.docx", Kind: run.ArtifactReport, Data: []byte("PK")},
		},
	}, nil
}

// rerunOnce asks for one re-run of a chosen stage, then approves all.
type rerunOnce struct {
	stage run.Stage
	done  bool
}

func (r *rerunOnce) Review(res *run.StageResult) (approval.Decision, error) {
	if res.Stage == r.stage && !r.done {
		r.done = true
		return approval.Decision{Action: approval.ActionRerun}, nil
	}
	return approval.Decision{Action: approval.ActionApprove}, nil
}

func newTestPipeline(t *testing.T, approver approval.Approver, mode Mode) (*pipeline, *fakeCouncil, *fakeExecutor, *fakeWriter) {
	t.Helper()
	ds, err := dataset.Read(strings.NewReader("bmi,complication\n27.1,0\n31.4,1\n24.9,0\n"))
	if err != nil {
		t.Fatalf("dataset.Read: %v", err)
	}

	fc := &fakeCouncil{}
	fe := &fakeExecutor{}
	fw := &fakeWriter{}

	return &pipeline{
		council:  fc,
		executor: fe,
		writer:   fw,
		approver: approver,
		record: run.New("study.csv", run.Context{
			ResearchQuestion: "Does BMI affect complications?",
			OutcomeVar:       "complication",
			ExposureVar:      "bmi",
			StudyDesign:      "Retrospective Cohort",
			JournalFormat:    "jbjs",
		}),
		ds:     ds,
		mode:   mode,
		outDir: filepath.Join(t.TempDir(), "out"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout: &bytes.Buffer{},
		quiet:  true,
	}, fc, fe, fw
}

func TestPipeline_FullRun(t *testing.T) {
	p, fc, fe, fw := newTestPipeline(t, approval.Auto{}, ModeFull)

	paths, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every stage approved.
	for _, stage := range run.Stages() {
		res := p.record.Result(stage)
		if res == nil {
			t.Fatalf("stage %s did not run", stage)
		}
		if res.Approval != run.ApprovalApproved {
			t.Errorf("stage %s approval = %q", stage, res.Approval)
		}
	}

	if !fe.executed || fe.quickRun {
		t.Errorf("executed=%v quick=%v, want full sandbox run", fe.executed, fe.quickRun)
	}
	if !strings.Contains(string(fe.sawCSV), "bmi,complication") {
		t.Errorf("sandbox CSV = %q", fe.sawCSV)
	}

	// The review stage sees the generated code and the execution output.
	if fc.reviewCode != "print('analysis')" {
		t.Errorf("review code = %q", fc.reviewCode)
	}
	if fc.reviewResults != "OR 1.42, P = .002" {
		t.Errorf("review results = %q", fc.reviewResults)
	}

	// The writer request is assembled from the code stage artifacts.
	if fw.sawReq.NumFigures != 1 {
		t.Errorf("NumFigures = %d", fw.sawReq.NumFigures)
	}
	if !strings.Contains(fw.sawReq.Tables["table_1.csv"], "age,3") {
		t.Errorf("tables = %v", fw.sawReq.Tables)
	}
	if fw.sawReq.SampleSize != 3 {
		t.Errorf("SampleSize = %d", fw.sawReq.SampleSize)
	}
	if fw.sawReq.JournalKey != "jbjs" {
		t.Errorf("JournalKey = %q", fw.sawReq.JournalKey)
	}

	// The bundle carries the audit trail plus all artifacts.
	wantFiles := []string{"audit_trail.json", "analysis_script.py", "figure_1.png", "table_1.csv", "analysis_report.docx"}
	if len(paths) != len(wantFiles) {
		t.Fatalf("paths = %v", paths)
	}
	for _, name := range wantFiles {
		if _, err := os.Stat(filepath.Join(p.outDir, name)); err != nil {
			t.Errorf("bundle missing %s: %v", name, err)
		}
	}
}

func TestPipeline_QuickMode(t *testing.T) {
	p, _, fe, fw := newTestPipeline(t, approval.Auto{}, ModeQuick)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !fe.quickRun || fe.executed {
		t.Errorf("quick=%v executed=%v, want quick-only", fe.quickRun, fe.executed)
	}
	// Quick mode produces no figures or tables.
	if fw.sawReq.NumFigures != 0 || len(fw.sawReq.Tables) != 0 {
		t.Errorf("quick mode artifacts leaked: %+v", fw.sawReq)
	}
	if p.record.Result(run.StageCode).Output != "quick output" {
		t.Errorf("code output = %q", p.record.Result(run.StageCode).Output)
	}
}

func TestPipeline_RerunRepeatsStage(t *testing.T) {
	p, fc, _, _ := newTestPipeline(t, &rerunOnce{stage: run.StagePlanning}, ModeFull)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fc.planCalls != 2 {
		t.Errorf("plan calls = %d, want 2", fc.planCalls)
	}
	if p.record.Result(run.StagePlanning).Approval != run.ApprovalApproved {
		t.Error("planning not approved after re-run")
	}
}

// approveWithMods attaches modification notes when approving a stage.
type approveWithMods struct {
	stage run.Stage
	notes string
}

func (a *approveWithMods) Review(res *run.StageResult) (approval.Decision, error) {
	if res.Stage == a.stage {
		return approval.Decision{Action: approval.ActionApprove, Modifications: a.notes}, nil
	}
	return approval.Decision{Action: approval.ActionApprove}, nil
}

func TestPipeline_ModificationsFlowDownstream(t *testing.T) {
	p, fc, _, _ := newTestPipeline(t, &approveWithMods{stage: run.StagePlanning, notes: "use robust SEs"}, ModeFull)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(fc.codeMods, "use robust SEs") {
		t.Errorf("code generation modifications = %q", fc.codeMods)
	}
}
