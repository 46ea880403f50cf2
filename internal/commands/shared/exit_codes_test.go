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

package shared

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/tombee/statscouncil/pkg/errors"
)

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := NewAnalysisError("pipeline failed", cause)

	if err.Code != ExitAnalysisFailed {
		t.Errorf("code = %d", err.Code)
	}
	if got := err.Error(); got != "pipeline failed: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrappable")
	}
}

func TestExitErrorCodes(t *testing.T) {
	tests := []struct {
		err  *ExitError
		code int
	}{
		{NewAnalysisError("a", nil), ExitAnalysisFailed},
		{NewInvalidInputError("b", nil), ExitInvalidInput},
		{NewMissingInputError("c", nil), ExitMissingInput},
		{NewProviderExitError("d", nil), ExitProviderError},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.err.Message, tt.err.Code, tt.code)
		}
	}
}

func TestSuggestionFrom(t *testing.T) {
	provErr := &pkgerrors.ProviderError{
		Provider:   "openrouter",
		StatusCode: 401,
		Message:    "unauthorized",
		Suggestion: "Check that OPENROUTER_API_KEY is set",
	}
	wrapped := fmt.Errorf("call failed: %w", provErr)

	if got := SuggestionFrom(wrapped); got != provErr.Suggestion {
		t.Errorf("SuggestionFrom = %q", got)
	}
	if got := SuggestionFrom(errors.New("plain")); got != "" {
		t.Errorf("SuggestionFrom(plain) = %q", got)
	}
}
