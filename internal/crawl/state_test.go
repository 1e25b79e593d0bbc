package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  float64
	}{
		{"submitted", State{Status: StatusSubmitted}, 0},
		{"zero total", State{Status: StatusScraping, Completed: 3}, 0},
		{"half", State{Status: StatusScraping, Completed: 5, Total: 10}, 0.5},
		{"overshoot clamped", State{Status: StatusScraping, Completed: 12, Total: 10}, 1},
		{"completed", State{Status: StatusCompleted}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Progress())
		})
	}
}

func TestAdvance_TerminalStatesAreFinal(t *testing.T) {
	for _, final := range []State{
		{ID: "j", Status: StatusCompleted, Pages: domain.Bundle{{Title: "x"}}},
		{ID: "j", Status: StatusFailed},
	} {
		got, err := final.Advance(State{ID: "j", Status: StatusScraping, Completed: 1, Total: 2})
		assert.ErrorIs(t, err, ErrTerminal)
		assert.Equal(t, final, got)
	}
}

func TestAdvance_CompletedCountNeverRegresses(t *testing.T) {
	s := State{ID: "j", Status: StatusScraping, Completed: 5, Total: 10}

	got, err := s.Advance(State{ID: "j", Status: StatusScraping, Completed: 4, Total: 10})

	require.NoError(t, err)
	assert.Equal(t, 5, got.Completed)
}

func TestAdvance_RejectsForeignOrBackwardObservations(t *testing.T) {
	s := State{ID: "j", Status: StatusScraping}

	_, err := s.Advance(State{ID: "other", Status: StatusScraping})
	assert.Error(t, err)

	_, err = s.Advance(State{ID: "j", Status: StatusSubmitted})
	assert.Error(t, err)
}

func TestAdvance_ScrapeSequence(t *testing.T) {
	pages := domain.Bundle{{Title: "Home", Markdown: "# Home"}}
	steps := []struct {
		obs           State
		wantStatus    Status
		wantCompleted int
		wantProgress  float64
	}{
		{State{ID: "j", Status: StatusScraping, Completed: 2, Total: 10}, StatusScraping, 2, 0.2},
		{State{ID: "j", Status: StatusScraping, Completed: 5, Total: 10}, StatusScraping, 5, 0.5},
		{State{ID: "j", Status: StatusCompleted, Completed: 10, Total: 10, Pages: pages}, StatusCompleted, 10, 1},
	}

	cur := State{ID: "j", Status: StatusSubmitted}
	for i, step := range steps {
		prev := cur
		next, err := cur.Advance(step.obs)
		require.NoError(t, err, "step %d", i)

		assert.Equal(t, step.wantStatus, next.Status, "step %d", i)
		assert.Equal(t, step.wantCompleted, next.Completed, "step %d", i)
		assert.Equal(t, step.wantProgress, next.Progress(), "step %d", i)
		assert.GreaterOrEqual(t, next.Completed, prev.Completed, "step %d", i)
		cur = next
	}

	assert.True(t, cur.Terminal())
	assert.Equal(t, pages, cur.Pages)
	_, err := cur.Advance(State{ID: "j", Status: StatusScraping, Completed: 3, Total: 10})
	assert.ErrorIs(t, err, ErrTerminal)
}
