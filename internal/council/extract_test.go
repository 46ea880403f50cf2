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

package council

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "python fence",
			response: "Intro text\n```python\nx = 1\n```\ntrailing",
			want:     "x = 1",
		},
		{
			name:     "bare fence",
			response: "```\ny = 2\n```",
			want:     "y = 2",
		},
		{
			name:     "no fence returns raw",
			response: "just prose, no code",
			want:     "just prose, no code",
		},
		{
			name:     "unterminated fence returns raw",
			response: "```python\nx = 1",
			want:     "```python\nx = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractCode(tt.response); got != tt.want {
				t.Errorf("extractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractDisagreements(t *testing.T) {
	synthesis := "Plan summary.\n\nDISAGREEMENTS:\n- Model choice\n- Handling of missing data\n\nFinal plan follows."
	got := extractDisagreements(synthesis)
	if !strings.Contains(got, "Model choice") {
		t.Errorf("got %q", got)
	}
	// Collection stops at the blank line after the section.
	if strings.Contains(got, "Final plan follows.") {
		t.Errorf("collected past section end: %q", got)
	}

	if got := extractDisagreements("All members agreed on everything."); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestExtractIssues_CapsAtTen(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, fmt.Sprintf("ERROR number %d", i))
	}
	got := extractIssues(strings.Join(lines, "\n"))
	if n := len(strings.Split(got, "\n")); n != 10 {
		t.Errorf("issue lines = %d, want 10", n)
	}
}

func TestDetermineConfidence(t *testing.T) {
	tests := []struct {
		name   string
		review string
		issues string
		want   string
	}{
		{
			name:   "clean review",
			review: "The analysis is well executed.",
			want:   "HIGH",
		},
		{
			name:   "one critical marker",
			review: "There is a severe problem with the sample.",
			want:   "MEDIUM",
		},
		{
			name:   "three warnings",
			review: "Consider a sensitivity check. Minor issue. This could matter.",
			want:   "MEDIUM",
		},
		{
			name:   "two critical markers",
			review: "The model is incorrect and the CI is invalid.",
			want:   "LOW",
		},
		{
			name:   "many issues",
			review: "Fine otherwise.",
			issues: "a\nb\nc\nd\ne\nf",
			want:   "LOW",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineConfidence(tt.review, tt.issues); got != tt.want {
				t.Errorf("determineConfidence() = %q, want %q", got, tt.want)
			}
		})
	}
}
