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

package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with field",
			err:  &ValidationError{Field: "outcome", Message: "column not present in dataset"},
			want: "validation failed on outcome: column not present in dataset",
		},
		{
			name: "without field",
			err:  &ValidationError{Message: "dataset is empty"},
			want: "validation failed: dataset is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{
		Provider:   "openrouter",
		Model:      "deepseek/deepseek-r1",
		StatusCode: 429,
		Message:    "rate limited",
		RequestID:  "req-123",
	}

	got := err.Error()
	for _, want := range []string{"openrouter", "deepseek/deepseek-r1", "HTTP 429", "rate limited", "req-123"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ProviderError{Provider: "openrouter", Message: "request failed", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{Provider: "openrouter", What: "python code block"}
	want := "failed to parse python code block from openrouter response"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = &ParseError{What: "completion choices"}
	want = "failed to parse completion choices from response"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSandboxError(t *testing.T) {
	err := &SandboxError{Status: "failed", Message: "interpreter crashed", RunID: "run-9"}
	got := err.Error()
	for _, want := range []string{`status "failed"`, "interpreter crashed", "run-9"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "sandbox run", Duration: 5 * time.Minute}
	want := "sandbox run operation timed out after 5m0s"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := &ConfigError{Key: "models.audit", Reason: "unreadable", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	base := New("boom")
	wrapped := Wrap(base, "running stage")
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if wrapped.Error() != "running stage: boom" {
		t.Errorf("unexpected message: %q", wrapped.Error())
	}
}

func TestWrapf(t *testing.T) {
	base := New("boom")
	wrapped := Wrapf(base, "stage %d of %d", 2, 6)
	if want := "stage 2 of 6: boom"; wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestAs(t *testing.T) {
	inner := &ProviderError{Provider: "openrouter", Message: "bad gateway", StatusCode: 502}
	err := fmt.Errorf("planning council: %w", inner)

	var provErr *ProviderError
	if !As(err, &provErr) {
		t.Fatal("expected As to locate ProviderError")
	}
	if provErr.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", provErr.StatusCode)
	}
}
