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

// Package prompts renders the stage prompt templates embedded in the
// binary. Each pipeline stage pairs a system template with a user
// template populated from run context.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Embed stage prompt templates into the binary for offline availability
//
//go:embed *.tmpl
var embeddedFS embed.FS

var (
	parseOnce sync.Once
	parsed    *template.Template
	parseErr  error
)

// load parses every embedded template once.
func load() (*template.Template, error) {
	parseOnce.Do(func() {
		parsed, parseErr = template.ParseFS(embeddedFS, "*.tmpl")
	})
	return parsed, parseErr
}

// Render executes the named template with the given data.
// Names match the embedded file names without the .tmpl suffix.
func Render(name string, data any) (string, error) {
	tmpl, err := load()
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt templates: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// System returns the named static system prompt.
func System(name string) (string, error) {
	return Render(name, nil)
}

// DataAudit holds fields for the stage-1 user prompt.
type DataAudit struct {
	DataSummary      string
	ResearchQuestion string
	OutcomeVar       string
	ExposureVar      string
}

// Planning holds fields for the planning council user prompt.
type Planning struct {
	DataSummary      string
	DataAudit        string
	ResearchQuestion string
	Hypotheses       string
	OutcomeVar       string
	ExposureVar      string
	Covariates       string
	StudyDesign      string
}

// Synthesis holds fields for the synthesis user prompt.
type Synthesis struct {
	Plans            string
	ResearchQuestion string
}

// Assumptions holds fields for the assumption verification user prompt.
type Assumptions struct {
	DataSummary       string
	AnalysisPlan      string
	UserModifications string
}

// CodeGen holds fields for the code generation user prompt.
type CodeGen struct {
	DataSummary       string
	ColumnList        string
	AnalysisPlan      string
	Assumptions       string
	UserModifications string
	JournalFormat     string
}

// CodeVerify holds fields for the code review user prompt.
type CodeVerify struct {
	Code         string
	AnalysisPlan string
}

// Adversarial holds fields for the adversarial review user prompt.
type Adversarial struct {
	AnalysisPlan string
	Code         string
	Results      string
	Assumptions  string
}

// MethodsWriting holds fields for the methods section prompt.
type MethodsWriting struct {
	AnalysisPlan       string
	StudyDesign        string
	ReportingGuideline string
	JournalFormat      string
	SampleSize         string
}

// ResultsWriting holds fields for the results section prompt.
type ResultsWriting struct {
	ExecutionResults   string
	TableSummaries     string
	NumFigures         int
	JournalFormat      string
	ReportingGuideline string
}

// FigureLegends holds fields for the figure legends prompt.
type FigureLegends struct {
	NumFigures       int
	ExecutionResults string
	JournalFormat    string
}

// LimitationsWriting holds fields for the limitations paragraph prompt.
type LimitationsWriting struct {
	StudyDesign  string
	Review       string
	AnalysisPlan string
}
