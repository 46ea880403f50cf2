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

// Package run tracks the state of one analysis session: which stages have
// run, what they produced, what they cost, and whether the user approved
// each output. The record lives in memory for the session and is exported
// as an audit trail plus artifact bundle at the end.
package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

// Stage identifies one pipeline stage.
type Stage string

const (
	StageDataAudit   Stage = "data_audit"
	StagePlanning    Stage = "planning_council"
	StageAssumptions Stage = "assumption_verification"
	StageCode        Stage = "code_execution"
	StageReview      Stage = "adversarial_review"
	StageWriting     Stage = "results_writing"
)

// stageOrder fixes the pipeline sequence.
var stageOrder = []Stage{
	StageDataAudit,
	StagePlanning,
	StageAssumptions,
	StageCode,
	StageReview,
	StageWriting,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// DisplayName returns a human-readable stage name.
func (s Stage) DisplayName() string {
	switch s {
	case StageDataAudit:
		return "Data Audit"
	case StagePlanning:
		return "Planning Council"
	case StageAssumptions:
		return "Assumption Verification"
	case StageCode:
		return "Code Generation & Execution"
	case StageReview:
		return "Adversarial Review"
	case StageWriting:
		return "Results Writing"
	default:
		return string(s)
	}
}

// index returns the position of s in the pipeline, or -1.
func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Prev returns the stage before s, or "" for the first stage.
func (s Stage) Prev() Stage {
	i := s.index()
	if i <= 0 {
		return ""
	}
	return stageOrder[i-1]
}

// ApprovalStatus tracks the user's decision on a stage output.
type ApprovalStatus string

const (
	// ApprovalPending means the stage ran but the user has not decided.
	ApprovalPending ApprovalStatus = "pending"

	// ApprovalApproved means the user accepted the output; the stage
	// result is now immutable.
	ApprovalApproved ApprovalStatus = "approved"
)

// ArtifactKind classifies exported files.
type ArtifactKind string

const (
	ArtifactScript ArtifactKind = "script"
	ArtifactFigure ArtifactKind = "figure"
	ArtifactTable  ArtifactKind = "table"
	ArtifactReport ArtifactKind = "report"
)

// Artifact is a binary or text file produced by a stage.
type Artifact struct {
	// Name is the file name used when exporting (e.g., "figure_1.png").
	Name string `json:"name"`

	// Kind classifies the artifact.
	Kind ArtifactKind `json:"kind"`

	// Data is the raw file content. Excluded from the audit JSON; the
	// bundle writer persists it alongside.
	Data []byte `json:"-"`
}

// StageResult captures one execution of a pipeline stage.
type StageResult struct {
	// Stage identifies which stage produced this result.
	Stage Stage `json:"stage"`

	// Output is the primary text output shown to the user for approval.
	Output string `json:"output"`

	// Extras holds named secondary text outputs (per-planner proposals,
	// disagreements, verification notes, issue lists).
	Extras map[string]string `json:"extras,omitempty"`

	// Artifacts holds files produced by the stage.
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Models lists the model IDs consulted, in call order.
	Models []string `json:"models,omitempty"`

	// Approval is the user's decision state.
	Approval ApprovalStatus `json:"approval"`

	// UserModifications is free text the user attached when approving.
	UserModifications string `json:"user_modifications,omitempty"`

	// Cost is the stage's total model cost.
	Cost *pricing.CostInfo `json:"cost,omitempty"`

	// Duration is the stage's wall-clock time.
	Duration time.Duration `json:"duration_ns"`

	// CompletedAt is when the stage finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Context holds the research framing the user supplied up front.
type Context struct {
	ResearchQuestion  string `json:"research_question"`
	Hypotheses        string `json:"hypotheses,omitempty"`
	OutcomeVar        string `json:"outcome_var"`
	ExposureVar       string `json:"exposure_var"`
	Covariates        string `json:"covariates,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`
	StudyDesign       string `json:"study_design"`
	JournalFormat     string `json:"journal_format"`
}

// Record accumulates the state of one analysis session.
// It is safe for concurrent use.
type Record struct {
	mu sync.RWMutex

	// ID uniquely identifies this run.
	ID string `json:"id"`

	// DatasetPath is the source CSV path.
	DatasetPath string `json:"dataset_path"`

	// Context is the research framing.
	Context Context `json:"context"`

	// Results holds stage results keyed by stage.
	Results map[Stage]*StageResult `json:"results"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a record for a fresh analysis session.
func New(datasetPath string, ctx Context) *Record {
	now := time.Now()
	return &Record{
		ID:          uuid.New().String(),
		DatasetPath: datasetPath,
		Context:     ctx,
		Results:     make(map[Stage]*StageResult),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetResult records a stage execution. A pending result for the same stage
// is replaced (the user asked for a re-run); an approved result is
// immutable. The previous stage must be approved first.
func (r *Record) SetResult(res *StageResult) error {
	if res == nil || res.Stage.index() < 0 {
		return &errors.ValidationError{
			Field:   "stage",
			Message: fmt.Sprintf("unknown stage %q", res.Stage),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := res.Stage.Prev(); prev != "" {
		prevRes, ok := r.Results[prev]
		if !ok || prevRes.Approval != ApprovalApproved {
			return &errors.ValidationError{
				Field:      "stage",
				Message:    fmt.Sprintf("stage %s requires approval of %s first", res.Stage, prev),
				Suggestion: "Approve or re-run the preceding stage before continuing",
			}
		}
	}

	if existing, ok := r.Results[res.Stage]; ok && existing.Approval == ApprovalApproved {
		return &errors.ValidationError{
			Field:   "stage",
			Message: fmt.Sprintf("stage %s is already approved and cannot be replaced", res.Stage),
		}
	}

	if res.Approval == "" {
		res.Approval = ApprovalPending
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}

	r.Results[res.Stage] = res
	r.UpdatedAt = time.Now()
	return nil
}

// Approve marks a pending stage result as approved, optionally attaching
// the user's modification notes for downstream stages.
func (r *Record) Approve(stage Stage, modifications string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.Results[stage]
	if !ok {
		return &errors.NotFoundError{Resource: "stage result", ID: string(stage)}
	}
	if res.Approval == ApprovalApproved {
		return &errors.ValidationError{
			Field:   "stage",
			Message: fmt.Sprintf("stage %s is already approved", stage),
		}
	}

	res.Approval = ApprovalApproved
	res.UserModifications = modifications
	r.UpdatedAt = time.Now()
	return nil
}

// Result returns the result for a stage, or nil if the stage has not run.
func (r *Record) Result(stage Stage) *StageResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Results[stage]
}

// ApprovedOutput returns the output text of an approved stage, or an
// error if the stage has not run or is not yet approved.
func (r *Record) ApprovedOutput(stage Stage) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.Results[stage]
	if !ok {
		return "", &errors.NotFoundError{Resource: "stage result", ID: string(stage)}
	}
	if res.Approval != ApprovalApproved {
		return "", &errors.ValidationError{
			Field:   "stage",
			Message: fmt.Sprintf("stage %s output is not approved", stage),
		}
	}
	return res.Output, nil
}

// TotalCost sums the recorded stage costs. The accuracy is the weakest
// accuracy among contributing stages.
func (r *Record) TotalCost() *pricing.CostInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := &pricing.CostInfo{Currency: "USD", Accuracy: pricing.CostUnavailable}
	for _, res := range r.Results {
		if res.Cost == nil || res.Cost.Accuracy == pricing.CostUnavailable {
			continue
		}
		total.Amount += res.Cost.Amount
		switch {
		case total.Accuracy == pricing.CostUnavailable:
			total.Accuracy = res.Cost.Accuracy
		case res.Cost.Accuracy == pricing.CostEstimated:
			total.Accuracy = pricing.CostEstimated
		}
	}
	return total
}

// ExportAudit writes the audit-trail JSON to w.
func (r *Record) ExportAudit(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode audit trail: %w", err)
	}
	return nil
}

// WriteBundle exports the audit trail and every stage artifact into dir,
// creating it if needed. Returns the paths written.
func (r *Record) WriteBundle(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var written []string

	auditPath := filepath.Join(dir, "audit_trail.json")
	f, err := os.Create(auditPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit trail: %w", err)
	}
	if err := r.ExportAudit(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	written = append(written, auditPath)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, stage := range stageOrder {
		res, ok := r.Results[stage]
		if !ok {
			continue
		}
		for _, a := range res.Artifacts {
			path := filepath.Join(dir, a.Name)
			if err := os.WriteFile(path, a.Data, 0644); err != nil {
				return written, fmt.Errorf("failed to write artifact %s: %w", a.Name, err)
			}
			written = append(written, path)
		}
	}

	return written, nil
}
