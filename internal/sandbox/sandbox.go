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

// Package sandbox runs generated analysis scripts in OpenAI's Assistants
// code-interpreter environment. The dataset CSV is uploaded, an assistant
// and thread are created per run, the run is polled to a terminal status,
// and text output plus generated figure and table files are collected.
// Uploaded resources are deleted best-effort afterwards.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tombee/statscouncil/pkg/errors"
	"github.com/tombee/statscouncil/pkg/httpclient"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// assistantsBetaHeader is required by the Assistants API.
	assistantsBetaHeader = "assistants=v2"

	// fullModel runs the full analysis; quickModel the quick path.
	fullModel  = "gpt-4o"
	quickModel = "gpt-4o-mini"
)

// File is a named file produced inside the sandbox.
type File struct {
	Name string
	Data []byte
}

// Result holds the outcome of a sandbox run.
type Result struct {
	// Output is the concatenated assistant text output.
	Output string

	// Figures are PNG images produced by the run, in encounter order.
	Figures []File

	// Tables are CSV files the script saved and referenced.
	Tables []File
}

// Config configures an Executor.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string

	// BaseURL overrides the API base URL. Used in tests.
	BaseURL string

	// PollInterval is the initial interval between run status polls.
	PollInterval time.Duration

	// MaxPollInterval caps the polling backoff.
	MaxPollInterval time.Duration

	// RunTimeout is the maximum wall-clock time for one run.
	RunTimeout time.Duration

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Executor submits code to the remote sandbox.
type Executor struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	pollInterval    time.Duration
	maxPollInterval time.Duration
	runTimeout      time.Duration
	logger          *slog.Logger
}

// New creates a sandbox executor.
func New(cfg Config) (*Executor, error) {
	if cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "openai.api_key",
			Reason: "API key is required for the code execution sandbox",
		}
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = 120 * time.Second
	hcfg.UserAgent = "statscouncil-sandbox/1.0"
	hcfg.RetryAttempts = 0

	client, err := httpclient.New(hcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	e := &Executor{
		apiKey:          cfg.APIKey,
		baseURL:         defaultBaseURL,
		httpClient:      client,
		pollInterval:    cfg.PollInterval,
		maxPollInterval: cfg.MaxPollInterval,
		runTimeout:      cfg.RunTimeout,
		logger:          cfg.Logger,
	}
	if cfg.BaseURL != "" {
		e.baseURL = cfg.BaseURL
	}
	if e.pollInterval <= 0 {
		e.pollInterval = 2 * time.Second
	}
	if e.maxPollInterval < e.pollInterval {
		e.maxPollInterval = 15 * time.Second
	}
	if e.runTimeout <= 0 {
		e.runTimeout = 10 * time.Minute
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// executePrompt wraps the generated script with execution instructions.
const executePrompt = `Execute the following Python code to analyze the uploaded CSV data.

IMPORTANT INSTRUCTIONS:
1. Load the data from the uploaded file using pandas
2. Execute the analysis code provided below
3. Generate all figures as PNG files
4. Generate all tables as CSV files
5. Provide a comprehensive text summary of results

ANALYSIS CODE:
` + "```python\n%s\n```" + `

After running the analysis:
1. Save each figure as 'figure_1.png', 'figure_2.png', etc.
2. Save Table 1 as 'table_1.csv'
3. Save any results tables as 'results_table.csv'
4. Print a complete summary of statistical results including:
   - Sample sizes
   - Descriptive statistics
   - Test statistics, p-values, and confidence intervals
   - Effect sizes with interpretation
   - Model diagnostics if applicable

Execute the code now and provide results.`

// Execute runs the full analysis path: upload, run, collect figures and
// tables, clean up.
func (e *Executor) Execute(ctx context.Context, code string, csvData []byte) (*Result, error) {
	prompt := fmt.Sprintf(executePrompt, code)
	return e.run(ctx, prompt, csvData, fullModel,
		"Statistical Analyst",
		"You are a statistical analyst. Execute Python code to analyze data and generate results.")
}

// Quick runs the quick-analysis path: text output only, smaller model.
func (e *Executor) Quick(ctx context.Context, code string, csvData []byte) (string, error) {
	prompt := fmt.Sprintf("Execute this code and return results:\n```python\n%s\n```", code)
	res, err := e.run(ctx, prompt, csvData, quickModel,
		"Quick Analyst",
		"Execute Python code and return results.")
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// run drives one sandbox execution end to end.
func (e *Executor) run(ctx context.Context, prompt string, csvData []byte, model, name, instructions string) (*Result, error) {
	fileID, err := e.uploadFile(ctx, "data.csv", csvData)
	if err != nil {
		return nil, err
	}
	defer e.deleteFile(fileID)

	assistantID, err := e.createAssistant(ctx, model, name, instructions)
	if err != nil {
		return nil, err
	}
	defer e.deleteAssistant(assistantID)

	threadID, err := e.createThread(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.createMessage(ctx, threadID, prompt, fileID); err != nil {
		return nil, err
	}

	runID, err := e.createRun(ctx, threadID, assistantID)
	if err != nil {
		return nil, err
	}

	status, err := e.pollRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if status != "completed" {
		return nil, &errors.SandboxError{
			Status:  status,
			Message: "sandbox run did not complete",
			RunID:   runID,
		}
	}

	return e.collect(ctx, threadID)
}

// uploadFile uploads the CSV via multipart form with purpose=assistants.
func (e *Executor) uploadFile(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		ID string `json:"id"`
	}
	if err := e.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// createAssistant creates a code-interpreter assistant for this run.
func (e *Executor) createAssistant(ctx context.Context, model, name, instructions string) (string, error) {
	body := map[string]any{
		"name":         name,
		"instructions": instructions,
		"model":        model,
		"tools":        []map[string]string{{"type": "code_interpreter"}},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := e.postJSON(ctx, "/assistants", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// createThread creates an empty thread.
func (e *Executor) createThread(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := e.postJSON(ctx, "/threads", map[string]any{}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// createMessage adds the user prompt with the CSV attached for the
// code interpreter.
func (e *Executor) createMessage(ctx context.Context, threadID, prompt, fileID string) error {
	body := map[string]any{
		"role":    "user",
		"content": prompt,
		"attachments": []map[string]any{
			{
				"file_id": fileID,
				"tools":   []map[string]string{{"type": "code_interpreter"}},
			},
		},
	}
	return e.postJSON(ctx, "/threads/"+threadID+"/messages", body, nil)
}

// createRun starts the assistant on the thread.
func (e *Executor) createRun(ctx context.Context, threadID, assistantID string) (string, error) {
	body := map[string]any{"assistant_id": assistantID}
	var resp struct {
		ID string `json:"id"`
	}
	if err := e.postJSON(ctx, "/threads/"+threadID+"/runs", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// pollRun polls the run until it reaches a terminal status, backing off
// exponentially up to the configured cap. Polling stops at RunTimeout.
func (e *Executor) pollRun(ctx context.Context, threadID, runID string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.pollInterval
	bo.MaxInterval = e.maxPollInterval
	bo.MaxElapsedTime = e.runTimeout

	var status string
	op := func() error {
		var resp struct {
			Status string `json:"status"`
		}
		if err := e.getJSON(ctx, "/threads/"+threadID+"/runs/"+runID, &resp); err != nil {
			return backoff.Permanent(err)
		}
		status = resp.Status

		switch status {
		case "completed", "failed", "cancelled", "expired":
			return nil
		default:
			e.logger.Debug("sandbox run in progress", "run_id", runID, "status", status)
			return fmt.Errorf("run %s still %s", runID, status)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if ctx.Err() != nil {
			return "", &errors.TimeoutError{
				Operation: "sandbox run",
				Duration:  e.runTimeout,
				Cause:     ctx.Err(),
			}
		}
		var provErr *errors.ProviderError
		var parseErr *errors.ParseError
		if errors.As(err, &provErr) || errors.As(err, &parseErr) {
			return "", err
		}
		return "", &errors.TimeoutError{
			Operation: "sandbox run",
			Duration:  e.runTimeout,
			Cause:     err,
		}
	}
	return status, nil
}

// collect walks the thread messages gathering assistant text, figures,
// and table files referenced by file-path annotations.
func (e *Executor) collect(ctx context.Context, threadID string) (*Result, error) {
	var resp struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text *struct {
					Value       string `json:"value"`
					Annotations []struct {
						Type     string `json:"type"`
						Text     string `json:"text"`
						FilePath *struct {
							FileID string `json:"file_id"`
						} `json:"file_path"`
					} `json:"annotations"`
				} `json:"text"`
				ImageFile *struct {
					FileID string `json:"file_id"`
				} `json:"image_file"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := e.getJSON(ctx, "/threads/"+threadID+"/messages?order=asc", &resp); err != nil {
		return nil, err
	}

	result := &Result{}
	var output strings.Builder
	figureN := 0

	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, content := range msg.Content {
			switch content.Type {
			case "text":
				if content.Text == nil {
					continue
				}
				output.WriteString(content.Text.Value)
				output.WriteString("\n")
				for _, ann := range content.Text.Annotations {
					if ann.Type != "file_path" || ann.FilePath == nil {
						continue
					}
					data, err := e.downloadFile(ctx, ann.FilePath.FileID)
					if err != nil {
						e.logger.Warn("failed to download sandbox file", "file_id", ann.FilePath.FileID, "error", err)
						continue
					}
					result.Tables = append(result.Tables, File{
						Name: fileBaseName(ann.Text, fmt.Sprintf("table_%d.csv", len(result.Tables)+1)),
						Data: data,
					})
				}
			case "image_file":
				if content.ImageFile == nil {
					continue
				}
				data, err := e.downloadFile(ctx, content.ImageFile.FileID)
				if err != nil {
					e.logger.Warn("failed to download sandbox figure", "file_id", content.ImageFile.FileID, "error", err)
					continue
				}
				figureN++
				result.Figures = append(result.Figures, File{
					Name: fmt.Sprintf("figure_%d.png", figureN),
					Data: data,
				})
			}
		}
	}

	result.Output = strings.TrimSpace(output.String())
	return result, nil
}

// fileBaseName extracts the final path element from an annotation path,
// falling back when the annotation carries no usable name.
func fileBaseName(annotated, fallback string) string {
	if annotated == "" {
		return fallback
	}
	parts := strings.Split(annotated, "/")
	name := parts[len(parts)-1]
	if name == "" {
		return fallback
	}
	return name
}

// downloadFile fetches a file's raw content.
func (e *Executor) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider: "openai",
			Message:  fmt.Sprintf("file download failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("file download failed: %s", string(body)),
		}
	}
	return io.ReadAll(resp.Body)
}

// deleteFile removes an uploaded file. Cleanup is best-effort; errors
// are logged and swallowed.
func (e *Executor) deleteFile(fileID string) {
	if fileID == "" {
		return
	}
	e.deleteResource("/files/" + fileID)
}

// deleteAssistant removes a per-run assistant. Best-effort.
func (e *Executor) deleteAssistant(assistantID string) {
	if assistantID == "" {
		return
	}
	e.deleteResource("/assistants/" + assistantID)
}

func (e *Executor) deleteResource(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.baseURL+path, nil)
	if err != nil {
		return
	}
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Warn("sandbox cleanup failed", "path", path, "error", err)
		return
	}
	resp.Body.Close()
}

// postJSON sends a JSON POST and decodes the response into out (if non-nil).
func (e *Executor) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, out)
}

// getJSON sends a GET and decodes the response.
func (e *Executor) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return e.do(req, out)
}

// do sends the request with auth headers and decodes a JSON response.
func (e *Executor) do(req *http.Request, out any) error {
	e.setHeaders(req)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &errors.ProviderError{
			Provider: "openai",
			Message:  fmt.Sprintf("request failed: %v", err),
			Cause:    err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := string(body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    msg,
			Suggestion: suggestionForStatus(resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &errors.ParseError{
			Provider: "openai",
			What:     "response body",
			Cause:    err,
		}
	}
	return nil
}

func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that OPENAI_API_KEY is set and valid"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Wait before re-running the stage"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "OpenAI is experiencing issues. Re-run the stage after a short delay"
	default:
		return ""
	}
}

func (e *Executor) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)
}
