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

// Package models implements the models command, showing the configured
// council lineup with pricing.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/statscouncil/internal/commands/shared"
	"github.com/tombee/statscouncil/internal/config"
	"github.com/tombee/statscouncil/pkg/llm"
)

// NewCommand creates the models command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the configured model lineup",
		Long: `Show which model fills each council seat, with per-million token
pricing. Seats can be overridden in the models section of the config file.`,
		RunE: runModels,
	}
}

// lineupEntry is the JSON shape for one lineup row.
type lineupEntry struct {
	Seat                  string  `json:"seat"`
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	InputPricePerMillion  float64 `json:"input_price_per_million"`
	OutputPricePerMillion float64 `json:"output_price_per_million"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return shared.NewInvalidInputError("failed to load configuration", err)
	}
	lineup := cfg.Lineup()

	if shared.GetJSON() {
		entries := make([]lineupEntry, 0, len(lineup))
		for _, m := range lineup {
			entries = append(entries, lineupEntry{
				Seat:                  string(m.Seat),
				ID:                    m.ID,
				Name:                  m.Name,
				InputPricePerMillion:  m.InputPricePerMillion,
				OutputPricePerMillion: m.OutputPricePerMillion,
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal lineup: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(shared.Header.Render("Council lineup"))
	for _, seat := range []llm.Seat{llm.SeatAudit, llm.SeatPlanner, llm.SeatReasoner, llm.SeatSynthesis, llm.SeatWriter} {
		members := llm.GetModelsBySeat(lineup, seat)
		for _, m := range members {
			cmd.Printf("  %-10s %-38s $%.2f in / $%.2f out per 1M tokens\n",
				shared.Bold.Render(string(seat)), m.ID,
				m.InputPricePerMillion, m.OutputPricePerMillion)
		}
	}
	return nil
}
