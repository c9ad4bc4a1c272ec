package poller

import (
	"time"

	"github.com/xiaot623/carechat/internal/domain"
)

// Update is the interim message emitted once the backend has queued work.
type Update struct {
	SessionID string
	Actions   []domain.PlannedAction
	Text      string
}

// Outcome is the terminal result of one polling sequence.
type Outcome struct {
	SessionID    string
	State        domain.PollState
	StatusChecks int
	Results      []domain.AgentResult
	Message      string
	Err          error
	Elapsed      time.Duration
}

// Reporter receives the user-visible messages of a run. Final is called
// exactly once unless the run is cancelled, in which case it is not called.
type Reporter interface {
	Planned(Update)
	Final(Outcome)
}

// ReporterFuncs adapts plain functions to Reporter. Nil fields are skipped.
type ReporterFuncs struct {
	OnPlanned func(Update)
	OnFinal   func(Outcome)
}

func (r ReporterFuncs) Planned(u Update) {
	if r.OnPlanned != nil {
		r.OnPlanned(u)
	}
}

func (r ReporterFuncs) Final(o Outcome) {
	if r.OnFinal != nil {
		r.OnFinal(o)
	}
}

type nopReporter struct{}

func (nopReporter) Planned(Update) {}
func (nopReporter) Final(Outcome)  {}
