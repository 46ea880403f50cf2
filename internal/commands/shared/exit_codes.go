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
	"os"

	pkgerrors "github.com/tombee/statscouncil/pkg/errors"
)

// Exit codes for the analyze command
const (
	ExitSuccess        = 0
	ExitAnalysisFailed = 1
	ExitInvalidInput   = 2
	ExitMissingInput   = 3
	ExitProviderError  = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewAnalysisError creates an error for pipeline failures
func NewAnalysisError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitAnalysisFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidInputError creates an error for bad datasets or arguments
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewMissingInputError creates an error for missing required inputs
func NewMissingInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitMissingInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewProviderExitError creates an error for model endpoint failures
func NewProviderExitError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitProviderError,
		Message: msg,
		Cause:   cause,
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitAnalysisFailed)
}

// printSuggestion walks the error chain and prints the first actionable
// suggestion found on a typed error.
func printSuggestion(err error) {
	if s := SuggestionFrom(err); s != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", s)
	}
}

// SuggestionFrom extracts a user-facing suggestion from the error chain,
// or "" if none of the typed errors carry one.
func SuggestionFrom(err error) string {
	var provErr *pkgerrors.ProviderError
	if errors.As(err, &provErr) && provErr.Suggestion != "" {
		return provErr.Suggestion
	}
	var valErr *pkgerrors.ValidationError
	if errors.As(err, &valErr) && valErr.Suggestion != "" {
		return valErr.Suggestion
	}
	return ""
}
