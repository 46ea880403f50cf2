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

// Package approval gates pipeline stages on a human decision. After each
// stage the output is shown and the user approves it, approves it with
// modification notes for downstream stages, or asks for a re-run.
// Unattended runs approve everything automatically.
package approval

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/statscouncil/internal/run"
	"github.com/tombee/statscouncil/pkg/llm/pricing"
)

// Action is what the user decided to do with a stage output.
type Action string

const (
	// ActionApprove accepts the output and unlocks the next stage.
	ActionApprove Action = "approve"

	// ActionRerun discards the pending output and runs the stage again.
	ActionRerun Action = "rerun"
)

// Decision is the outcome of reviewing one stage output.
type Decision struct {
	// Action is the chosen action.
	Action Action

	// Modifications is free-text guidance attached on approval and fed
	// into downstream stage prompts.
	Modifications string
}

// Approver decides what happens to a pending stage result.
type Approver interface {
	// Review presents a stage result and returns the user's decision.
	Review(result *run.StageResult) (Decision, error)
}

// Auto approves every stage without prompting. Used for unattended runs.
type Auto struct{}

// Review always approves with no modifications.
func (Auto) Review(*run.StageResult) (Decision, error) {
	return Decision{Action: ActionApprove}, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

// Interactive prompts on the terminal after each stage.
type Interactive struct {
	writer io.Writer
}

// NewInteractive creates an interactive approver writing to stdout.
func NewInteractive() *Interactive {
	return &Interactive{writer: os.Stdout}
}

// NewInteractiveWithWriter creates an interactive approver with a custom
// output writer.
func NewInteractiveWithWriter(w io.Writer) *Interactive {
	return &Interactive{writer: w}
}

// Review prints the stage output with a styled header and asks the user
// to approve, approve with modifications, or re-run.
func (i *Interactive) Review(result *run.StageResult) (Decision, error) {
	w := i.writer
	if w == nil {
		w = os.Stdout
	}
	printResult(w, result)

	const (
		choiceApprove = "approve"
		choiceModify  = "modify"
		choiceRerun   = "rerun"
	)

	choice := choiceApprove
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s complete. How do you want to proceed?", result.Stage.DisplayName())).
				Options(
					huh.NewOption("Approve and continue", choiceApprove),
					huh.NewOption("Approve with modifications", choiceModify),
					huh.NewOption("Re-run this stage", choiceRerun),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return Decision{}, err
	}

	switch choice {
	case choiceRerun:
		return Decision{Action: ActionRerun}, nil
	case choiceModify:
		var mods string
		modForm := huh.NewForm(
			huh.NewGroup(
				huh.NewText().
					Title("Modifications").
					Description("These notes are passed to the following stages.").
					Value(&mods),
			),
		)
		if err := modForm.Run(); err != nil {
			return Decision{}, err
		}
		return Decision{Action: ActionApprove, Modifications: strings.TrimSpace(mods)}, nil
	default:
		return Decision{Action: ActionApprove}, nil
	}
}

// printResult writes the styled summary and the stage output.
func printResult(w io.Writer, result *run.StageResult) {
	fmt.Fprintln(w, Summary(result))
	fmt.Fprintln(w)
	fmt.Fprintln(w, result.Output)
	fmt.Fprintln(w)
}

// Summary renders the styled header line shown above a stage output:
// stage name, models consulted, cost, and any review confidence grade.
func Summary(result *run.StageResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("== " + result.Stage.DisplayName() + " =="))

	var meta []string
	if len(result.Models) > 0 {
		meta = append(meta, "models: "+strings.Join(result.Models, ", "))
	}
	if result.Cost != nil {
		meta = append(meta, "cost: "+pricing.FormatCost(result.Cost))
	}
	if result.Duration > 0 {
		meta = append(meta, "took: "+result.Duration.Round(time.Millisecond).String())
	}
	if len(meta) > 0 {
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(strings.Join(meta, "  |  ")))
	}

	if conf, ok := result.Extras["confidence"]; ok && conf != "HIGH" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("review confidence: " + conf))
	}

	return b.String()
}
