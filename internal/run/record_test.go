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

package run

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

func newTestRecord() *Record {
	return New("data.csv", Context{
		ResearchQuestion: "Does BMI affect complications?",
		OutcomeVar:       "complication",
		ExposureVar:      "bmi",
		StudyDesign:      "Retrospective Cohort",
		JournalFormat:    "generic",
	})
}

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	if len(stages) != 6 {
		t.Fatalf("len(Stages()) = %d, want 6", len(stages))
	}
	if stages[0] != StageDataAudit || stages[5] != StageWriting {
		t.Errorf("unexpected order: %v", stages)
	}

	if StageDataAudit.Prev() != "" {
		t.Errorf("first stage Prev() = %q, want empty", StageDataAudit.Prev())
	}
	if StagePlanning.Prev() != StageDataAudit {
		t.Errorf("StagePlanning.Prev() = %q", StagePlanning.Prev())
	}
}

func TestSetResult_GatedOnPriorApproval(t *testing.T) {
	r := newTestRecord()

	// Planning before audit approval must fail.
	err := r.SetResult(&StageResult{Stage: StagePlanning, Output: "plan"})
	if err == nil {
		t.Fatal("expected gating error, got nil")
	}

	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "audit"}); err != nil {
		t.Fatalf("SetResult(audit): %v", err)
	}

	// Still gated: audit is pending, not approved.
	if err := r.SetResult(&StageResult{Stage: StagePlanning, Output: "plan"}); err == nil {
		t.Fatal("expected gating error while audit pending")
	}

	if err := r.Approve(StageDataAudit, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := r.SetResult(&StageResult{Stage: StagePlanning, Output: "plan"}); err != nil {
		t.Errorf("SetResult(planning) after approval: %v", err)
	}
}

func TestSetResult_ReplacePendingNotApproved(t *testing.T) {
	r := newTestRecord()

	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "first"}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	// Re-run replaces the pending result.
	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "second"}); err != nil {
		t.Fatalf("SetResult replace: %v", err)
	}
	if got := r.Result(StageDataAudit).Output; got != "second" {
		t.Errorf("Output = %q, want second", got)
	}

	if err := r.Approve(StageDataAudit, "use robust SEs"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Approved results are immutable.
	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "third"}); err == nil {
		t.Error("expected error replacing approved result")
	}
	if err := r.Approve(StageDataAudit, ""); err == nil {
		t.Error("expected error approving twice")
	}
}

func TestApprovedOutput(t *testing.T) {
	r := newTestRecord()

	if _, err := r.ApprovedOutput(StageDataAudit); err == nil {
		t.Error("expected error for missing stage")
	}

	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "audit text"}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if _, err := r.ApprovedOutput(StageDataAudit); err == nil {
		t.Error("expected error for pending stage")
	}

	if err := r.Approve(StageDataAudit, "note"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	out, err := r.ApprovedOutput(StageDataAudit)
	if err != nil {
		t.Fatalf("ApprovedOutput: %v", err)
	}
	if out != "audit text" {
		t.Errorf("output = %q", out)
	}
	if r.Result(StageDataAudit).UserModifications != "note" {
		t.Error("modifications not recorded on approval")
	}
}

func TestTotalCost(t *testing.T) {
	r := newTestRecord()

	if err := r.SetResult(&StageResult{
		Stage:  StageDataAudit,
		Output: "audit",
		Cost:   &pricing.CostInfo{Amount: 0.01, Currency: "USD", Accuracy: pricing.CostMeasured},
	}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if err := r.Approve(StageDataAudit, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := r.SetResult(&StageResult{
		Stage:  StagePlanning,
		Output: "plan",
		Cost:   &pricing.CostInfo{Amount: 0.04, Currency: "USD", Accuracy: pricing.CostEstimated},
	}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	total := r.TotalCost()
	if math.Abs(total.Amount-0.05) > 1e-9 {
		t.Errorf("total = %f, want 0.05", total.Amount)
	}
	// One estimated contribution downgrades the total.
	if total.Accuracy != pricing.CostEstimated {
		t.Errorf("accuracy = %q, want estimated", total.Accuracy)
	}
}

func TestExportAudit(t *testing.T) {
	r := newTestRecord()
	if err := r.SetResult(&StageResult{Stage: StageDataAudit, Output: "audit"}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	var buf bytes.Buffer
	if err := r.ExportAudit(&buf); err != nil {
		t.Fatalf("ExportAudit: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("audit trail is not valid JSON: %v", err)
	}
	if decoded["id"] != r.ID {
		t.Errorf("id = %v", decoded["id"])
	}
	results, ok := decoded["results"].(map[string]any)
	if !ok || results["data_audit"] == nil {
		t.Errorf("results missing data_audit: %v", decoded["results"])
	}
}

func TestWriteBundle(t *testing.T) {
	r := newTestRecord()
	if err := r.SetResult(&StageResult{
		Stage:  StageDataAudit,
		Output: "audit",
		Artifacts: []Artifact{
			{Name: "figure_1.png", Kind: ArtifactFigure, Data: []byte{0x89, 0x50}},
		},
	}); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "bundle")
	written, err := r.WriteBundle(dir)
	if err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	if len(written) != 2 {
		t.Fatalf("written = %v, want 2 paths", written)
	}
	if _, err := os.Stat(filepath.Join(dir, "audit_trail.json")); err != nil {
		t.Errorf("audit trail missing: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "figure_1.png"))
	if err != nil {
		t.Fatalf("figure missing: %v", err)
	}
	if len(data) != 2 {
		t.Errorf("figure content = %v", data)
	}
}
