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

// Package formats implements the formats command, listing the supported
// journal reporting conventions.
package formats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/statscouncil/internal/commands/shared"
	"github.com/tombee/statscouncil/internal/journal"
)

// NewCommand creates the formats command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats [key]",
		Short: "List supported journal formats",
		Long: `List the journal formats the results writer can target, or show the
conventions of one format by key.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runFormats,
	}
}

func runFormats(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showFormat(cmd, args[0])
	}
	return listFormats(cmd)
}

func listFormats(cmd *cobra.Command) error {
	keys := journal.Keys()

	if shared.GetJSON() {
		out := make([]map[string]string, 0, len(keys))
		for _, key := range keys {
			f := journal.GetOrGeneric(key)
			out = append(out, map[string]string{"key": key, "name": f.Name})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal formats: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(shared.Header.Render("Journal formats"))
	for _, key := range keys {
		f := journal.GetOrGeneric(key)
		cmd.Printf("  %-10s %s\n", shared.Bold.Render(key), f.Name)
	}
	return nil
}

func showFormat(cmd *cobra.Command, key string) error {
	f, err := journal.Get(key)
	if err != nil {
		return shared.NewInvalidInputError(fmt.Sprintf("unknown journal format %q", key), err)
	}

	if shared.GetJSON() {
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal format: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(shared.Header.Render(f.Name))
	cmd.Printf("  %s %s\n", shared.RenderLabel("p-values:"), f.PValueStyle)
	cmd.Printf("  %s %s\n", shared.RenderLabel("confidence intervals:"), f.FormatCI(1.10, 1.80))
	cmd.Printf("  %s %s\n", shared.RenderLabel("sample:"), f.FormatSample(120, 54.5))
	cmd.Printf("  %s %s\n", shared.RenderLabel("software citation:"), f.SoftwareCitation)
	if len(f.Notes) > 0 {
		cmd.Printf("  %s %s\n", shared.RenderLabel("notes:"), strings.Join(f.Notes, "; "))
	}
	return nil
}
