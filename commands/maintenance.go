package commands

import (
	flowpilot "github.com/goliatone/go-flowpilot"
	"github.com/goliatone/go-flowpilot/session"
	"github.com/goliatone/go-flowpilot/storage"
)

// HistoryTrimJob periodically re-caps every owner's run history.
// AppendHistory already trims on write; this catches files edited or
// copied in from outside the service.
type HistoryTrimJob struct {
	Store  *storage.Store
	Limit  int
	Logger flowpilot.Logger

	// Schedule defaults to hourly.
	Schedule string
}

func (j HistoryTrimJob) CronOptions() flowpilot.HandlerConfig {
	expression := j.Schedule
	if expression == "" {
		expression = "@every 1h"
	}
	return flowpilot.HandlerConfig{
		Expression: expression,
		NoTimeout:  true,
	}
}

// SessionSweepJob reclaims expired in-memory viewer sessions. Redis
// backends expire keys on their own and do not need it.
type SessionSweepJob struct {
	Sessions *session.MemoryRegistry
	Logger   flowpilot.Logger

	// Schedule defaults to every ten minutes.
	Schedule string
}

func (j SessionSweepJob) CronOptions() flowpilot.HandlerConfig {
	expression := j.Schedule
	if expression == "" {
		expression = "@every 10m"
	}
	return flowpilot.HandlerConfig{Expression: expression}
}

func (j SessionSweepJob) CronHandler() func() error {
	return func() error {
		remaining := j.Sessions.Sweep()
		if j.Logger != nil {
			j.Logger.Debug("session sweep complete", "active", remaining)
		}
		return nil
	}
}

func (j HistoryTrimJob) CronHandler() func() error {
	return func() error {
		owners, err := j.Store.Owners()
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if err := j.Store.TrimHistory(owner, j.Limit); err != nil {
				if j.Logger != nil {
					j.Logger.Error("history trim failed", "owner", owner, "error", err)
				}
			}
		}
		return nil
	}
}
