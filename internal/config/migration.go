package config

import (
	"log/slog"

	"github.com/greenloop/hydroctl/internal/boot"
	"github.com/greenloop/hydroctl/internal/models"
)

// migrateState repairs fields that an older or hand-edited state file may
// carry in an inconsistent form.
func migrateState(state *models.State) {
	if state.LastBoot.Outcome != "" {
		if _, ok := boot.ParseState(state.LastBoot.Outcome); !ok {
			slog.Warn("config: unknown boot outcome, clearing", "outcome", state.LastBoot.Outcome)
			state.LastBoot = models.BootRecord{}
		}
	}

	if lf := state.LastFlood; lf != nil {
		if lf.Started.IsZero() {
			slog.Warn("config: flood record without start time, dropping")
			state.LastFlood = nil
		} else if lf.Stopped.Before(lf.Started) {
			lf.Stopped = lf.Started
		}
	}

	// a recorded flood implies at least one cycle
	if state.LastFlood != nil && state.FloodCycles == 0 {
		state.FloodCycles = 1
	}
}
