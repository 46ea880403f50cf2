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

import "strings"

// extractDisagreements pulls the disagreement section out of a synthesis
// response. Returns "" when the synthesis reports no conflicts.
func extractDisagreements(synthesis string) string {
	upper := strings.ToUpper(synthesis)
	if !strings.Contains(upper, "DISAGREEMENT") && !strings.Contains(upper, "CONFLICT") {
		return ""
	}

	var collected []string
	inSection := false
	for _, line := range strings.Split(synthesis, "\n") {
		lineUpper := strings.ToUpper(line)
		if strings.Contains(lineUpper, "DISAGREEMENT") ||
			strings.Contains(lineUpper, "CONFLICT") ||
			strings.Contains(lineUpper, "DIFFER") {
			inSection = true
		}
		if inSection {
			collected = append(collected, line)
			if strings.TrimSpace(line) == "" && len(collected) > 3 {
				break
			}
		}
	}

	if len(collected) == 0 {
		return ""
	}
	return strings.Join(collected, "\n")
}

// extractCode pulls a Python code block out of a model response, falling
// back to any fenced block, then to the raw response.
func extractCode(response string) string {
	if idx := strings.Index(response, "```python"); idx >= 0 {
		start := idx + len("```python")
		if end := strings.Index(response[start:], "```"); end > 0 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if idx := strings.Index(response, "```"); idx >= 0 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end > 0 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	return response
}

// issueKeywords mark lines in a review that describe concrete problems.
var issueKeywords = []string{"ERROR", "FLAW", "INCORRECT", "SHOULD", "MUST", "VIOLATION", "MISSING"}

// extractIssues collects up to ten problem lines from an adversarial
// review. Returns "" when no line matches.
func extractIssues(review string) string {
	var issues []string
	for _, line := range strings.Split(review, "\n") {
		upper := strings.ToUpper(line)
		for _, kw := range issueKeywords {
			if strings.Contains(upper, kw) {
				issues = append(issues, strings.TrimSpace(line))
				break
			}
		}
		if len(issues) == 10 {
			break
		}
	}
	return strings.Join(issues, "\n")
}

var (
	criticalWords = []string{"critical", "severe", "major error", "incorrect", "invalid"}
	warningWords  = []string{"caution", "consider", "minor", "suggest", "could"}
)

// determineConfidence grades the analysis from the review text. Two or
// more critical markers, or more than five issue lines, grade LOW; one
// critical marker or three warnings grade MEDIUM; otherwise HIGH.
func determineConfidence(review, issues string) string {
	lower := strings.ToLower(review)

	criticalCount := 0
	for _, w := range criticalWords {
		if strings.Contains(lower, w) {
			criticalCount++
		}
	}
	warningCount := 0
	for _, w := range warningWords {
		if strings.Contains(lower, w) {
			warningCount++
		}
	}

	issueCount := 0
	if issues != "" {
		issueCount = len(strings.Split(issues, "\n"))
	}

	switch {
	case criticalCount >= 2 || issueCount > 5:
		return "LOW"
	case criticalCount >= 1 || warningCount >= 3:
		return "MEDIUM"
	default:
		return "HIGH"
	}
}
