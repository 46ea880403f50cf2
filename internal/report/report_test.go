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

package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/pkg/llm"
)

type mockProvider struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (m *mockProvider) Name() string            { return "mock" }
func (m *mockProvider) Models() []llm.ModelInfo { return nil }

func (m *mockProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	// Each successive call is a different section.
	section := []string{"methods text", "results text", "legends text", "limitations text"}[len(m.requests)-1]
	return &llm.CompletionResponse{
		Content: section,
		Usage:   llm.TokenUsage{InputTokens: 200, OutputTokens: 400, TotalTokens: 600},
	}, nil
}

func writerLineup() []llm.ModelInfo {
	return []llm.ModelInfo{
		{ID: "vendor/writer", Name: "Writer", Seat: llm.SeatWriter, MaxOutputTokens: 8192, InputPricePerMillion: 5.0, OutputPricePerMillion: 25.0},
	}
}

func TestNew_RequiresWriterSeat(t *testing.T) {
	if _, err := New(&mockProvider{}, nil); err == nil {
		t.Error("expected error for empty lineup")
	}
	if _, err := New(&mockProvider{}, writerLineup()); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestReportingGuideline(t *testing.T) {
	tests := []struct {
		design string
		want   string
	}{
		{"Retrospective Cohort", "STROBE"},
		{"RCT", "CONSORT"},
		{"Case Series", "CARE"},
		{"Prediction Model", "TRIPOD"},
		{"Something Else", "STROBE"},
	}
	for _, tt := range tests {
		if got := ReportingGuideline(tt.design); !strings.Contains(got, tt.want) {
			t.Errorf("ReportingGuideline(%q) = %q, want containing %q", tt.design, got, tt.want)
		}
	}
}

func TestGenerate(t *testing.T) {
	provider := &mockProvider{}
	w, err := New(provider, writerLineup())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := w.Generate(context.Background(), Request{
		AnalysisPlan:     "logistic regression",
		ExecutionResults: "OR 1.42 (95% CI 1.1-1.8), P = .002",
		Tables:           map[string]string{"table_1.csv": "var,n\nage,120\n"},
		NumFigures:       2,
		Review:           "minor concerns",
		JournalKey:       "jbjs",
		StudyDesign:      "Retrospective Cohort",
		SampleSize:       120,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Stage != run.StageWriting {
		t.Errorf("stage = %q", res.Stage)
	}
	if len(provider.requests) != 4 {
		t.Fatalf("calls = %d, want 4", len(provider.requests))
	}

	for _, want := range []string{"METHODS", "methods text", "RESULTS", "results text", "FIGURE LEGENDS", "LIMITATIONS"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if res.Extras["limitations"] != "limitations text" {
		t.Errorf("extras = %v", res.Extras)
	}

	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %+v", res.Artifacts)
	}
	a := res.Artifacts[0]
	if a.Kind != run.ArtifactReport {
		t.Errorf("artifact kind = %q", a.Kind)
	}
	if a.Name != "analysis_report.docx" {
		t.Errorf("artifact name = %q", a.Name)
	}
	// docx files are zip archives.
	if !bytes.HasPrefix(a.Data, []byte("PK")) {
		t.Errorf("artifact is not a zip container: % x", a.Data[:4])
	}

	if res.Cost == nil || res.Cost.Amount <= 0 {
		t.Errorf("cost = %+v", res.Cost)
	}

	// The methods prompt carries the guideline and sample size.
	methods := provider.requests[0].Messages[1].Content
	if !strings.Contains(methods, "STROBE") {
		t.Errorf("methods prompt missing guideline:\n%s", methods)
	}
	if !strings.Contains(methods, "120") {
		t.Errorf("methods prompt missing sample size:\n%s", methods)
	}

	// The results prompt carries the table content.
	results := provider.requests[1].Messages[1].Content
	if !strings.Contains(results, "table_1.csv") {
		t.Errorf("results prompt missing table summary:\n%s", results)
	}

	// Writer temperature stays at the writing default.
	if temp := provider.requests[0].Temperature; temp == nil || *temp != writingTemperature {
		t.Errorf("temperature = %v", temp)
	}
}

func TestGenerate_TruncatesLegendContext(t *testing.T) {
	provider := &mockProvider{}
	w, err := New(provider, writerLineup())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	long := strings.Repeat("x", 5000)
	_, err = w.Generate(context.Background(), Request{
		AnalysisPlan:     "plan",
		ExecutionResults: long,
		NumFigures:       1,
		JournalKey:       "generic",
		StudyDesign:      "RCT",
		SampleSize:       10,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	legends := provider.requests[2].Messages[1].Content
	if strings.Contains(legends, long) {
		t.Error("legend prompt carries untruncated execution results")
	}
	if !strings.Contains(legends, strings.Repeat("x", maxResultsChars)) {
		t.Error("legend prompt missing truncated execution results")
	}
}

func TestRenderDocxAndFallbackText(t *testing.T) {
	secs := sections{
		Methods:     "## Statistical Analysis\nWe used **logistic regression**.",
		Results:     "# Findings\nOR 1.42.",
		Legends:     "Figure 1. Flow diagram.",
		Limitations: "Residual confounding.",
	}

	data, err := renderDocx(secs)
	if err != nil {
		t.Fatalf("renderDocx: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("rendered document is not a zip container")
	}

	text := secs.plainText()
	for _, want := range []string{"METHODS", "RESULTS", "FIGURE LEGENDS", "LIMITATIONS", "Residual confounding."} {
		if !strings.Contains(text, want) {
			t.Errorf("plain text missing %q", want)
		}
	}
}
