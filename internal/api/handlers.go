package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greenloop/hydroctl/internal/boot"
	"github.com/greenloop/hydroctl/internal/flood"
	"github.com/greenloop/hydroctl/internal/models"
)

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.State())
}

func (h *Handlers) getRegisters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Registers())
}

func (h *Handlers) getRegister(w http.ResponseWriter, r *http.Request) {
	addr, err := intParam(r, "addr")
	if err != nil {
		writeError(w, err)
		return
	}
	regs := h.ctrl.Registers()
	if addr < 0 || addr >= len(regs) {
		writeError(w, models.ErrNotFound(fmt.Sprintf("register %d not found", addr)))
		return
	}
	writeJSON(w, http.StatusOK, regs[addr])
}

func (h *Handlers) startFlood(w http.ResponseWriter, r *http.Request) {
	switch st := h.ctrl.BootState(); st {
	case boot.FiveVoltPower, boot.BootTimeout:
		writeError(w, models.ErrUnavailable("pump unavailable in boot state "+st.String()))
		return
	}
	h.ctrl.BeginFlooding()
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) stopFlood(w http.ResponseWriter, r *http.Request) {
	h.ctrl.StopFlooding()
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// floodLimits is the wire form of flood.Limits. A zero MinLevel or empty
// MaxDuration disables that check.
type floodLimits struct {
	ShutoffLevel *uint8  `json:"shutoff_level,omitempty"`
	MinLevel     *uint8  `json:"min_level,omitempty"`
	MaxDuration  *string `json:"max_duration,omitempty"`
}

func limitsJSON(l flood.Limits) floodLimits {
	out := floodLimits{ShutoffLevel: &l.ShutoffLevel, MinLevel: &l.MinLevel}
	if l.MaxDuration > 0 {
		d := l.MaxDuration.String()
		out.MaxDuration = &d
	}
	return out
}

func (h *Handlers) getFloodLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, limitsJSON(h.ctrl.FloodLimits()))
}

func (h *Handlers) setFloodLimits(w http.ResponseWriter, r *http.Request) {
	var upd floodLimits
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}

	l := h.ctrl.FloodLimits()
	if upd.ShutoffLevel != nil {
		l.ShutoffLevel = *upd.ShutoffLevel
	}
	if upd.MinLevel != nil {
		l.MinLevel = *upd.MinLevel
	}
	if upd.MaxDuration != nil {
		if *upd.MaxDuration == "" {
			l.MaxDuration = 0
		} else {
			d, err := time.ParseDuration(*upd.MaxDuration)
			if err != nil || d < 0 {
				writeError(w, &models.AppError{Code: "BAD_REQUEST", Message: "invalid duration", Field: "max_duration", Status: http.StatusBadRequest})
				return
			}
			l.MaxDuration = d
		}
	}

	switch {
	case l.ShutoffLevel == 0 || l.ShutoffLevel > 100:
		writeError(w, &models.AppError{Code: "BAD_REQUEST", Message: "shutoff_level must be 1-100", Field: "shutoff_level", Status: http.StatusBadRequest})
		return
	case l.MinLevel >= l.ShutoffLevel:
		writeError(w, &models.AppError{Code: "BAD_REQUEST", Message: "min_level must be below shutoff_level", Field: "min_level", Status: http.StatusBadRequest})
		return
	}

	h.ctrl.SetFloodLimits(l)
	writeJSON(w, http.StatusOK, limitsJSON(l))
}
