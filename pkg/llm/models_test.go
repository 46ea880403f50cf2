package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelByID(t *testing.T) {
	models := []ModelInfo{
		{ID: "vendor/alpha", Seat: SeatAudit},
		{ID: "vendor/beta", Seat: SeatPlanner},
	}

	m := GetModelByID(models, "vendor/beta")
	require.NotNil(t, m)
	assert.Equal(t, SeatPlanner, m.Seat)

	assert.Nil(t, GetModelByID(models, "vendor/gamma"))
}

func TestGetModelsBySeat(t *testing.T) {
	models := []ModelInfo{
		{ID: "vendor/a", Seat: SeatPlanner},
		{ID: "vendor/b", Seat: SeatReasoner},
		{ID: "vendor/c", Seat: SeatPlanner},
	}

	planners := GetModelsBySeat(models, SeatPlanner)
	require.Len(t, planners, 2)
	// Configured order is preserved.
	assert.Equal(t, "vendor/a", planners[0].ID)
	assert.Equal(t, "vendor/c", planners[1].ID)

	assert.Empty(t, GetModelsBySeat(models, SeatWriter))
}

func TestDefaultLineup(t *testing.T) {
	lineup := DefaultLineup()

	// Every seat is filled; the planning council has three members.
	for _, seat := range []Seat{SeatAudit, SeatReasoner, SeatSynthesis, SeatWriter} {
		assert.Len(t, GetModelsBySeat(lineup, seat), 1, "seat %s", seat)
	}
	assert.Len(t, GetModelsBySeat(lineup, SeatPlanner), 3)

	for _, m := range lineup {
		assert.NotEmpty(t, m.ID)
		assert.Greater(t, m.InputPricePerMillion, 0.0, "model %s", m.ID)
		assert.Greater(t, m.OutputPricePerMillion, 0.0, "model %s", m.ID)
	}

	writer := GetModelsBySeat(lineup, SeatWriter)[0]
	assert.Equal(t, 8192, writer.MaxOutputTokens)
}
