package crawl

import (
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/sitechat/internal/domain"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusScraping  Status = "scraping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrTerminal is returned when a finished job is asked to change state.
var ErrTerminal = errors.New("crawl job already finished")

// State is a crawl job as last observed. Pages is only set once completed;
// Err is only set once failed.
type State struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Pages     domain.Bundle `json:"-"`
	Err       error         `json:"-"`
}

func (s State) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Progress is Completed/Total clamped to [0, 1]. A completed job is always 1.
// Upstream can report more completed pages than the total; that is clamped,
// not treated as an error.
func (s State) Progress() float64 {
	if s.Status == StatusCompleted {
		return 1
	}
	if s.Total <= 0 || s.Completed <= 0 {
		return 0
	}
	p := float64(s.Completed) / float64(s.Total)
	if p > 1 {
		return 1
	}
	return p
}

// Advance applies a newer observation of the same job. Terminal states never
// change, and the completed count never goes backwards before completion.
func (s State) Advance(next State) (State, error) {
	if s.Terminal() {
		return s, ErrTerminal
	}
	if next.ID != s.ID {
		return s, fmt.Errorf("observation for job %q applied to job %q", next.ID, s.ID)
	}
	if next.Status == StatusSubmitted {
		return s, fmt.Errorf("job %q cannot return to %s", s.ID, StatusSubmitted)
	}
	if next.Status == StatusScraping && next.Completed < s.Completed {
		next.Completed = s.Completed
	}
	return next, nil
}
