package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/greenloop/hydroctl/internal/models"
)

func TestDefaultState(t *testing.T) {
	s := models.DefaultState()
	if s.Version != models.DefaultVersion {
		t.Errorf("Version = 0x%02x, want 0x%02x", s.Version, models.DefaultVersion)
	}
	if s.FloodCycles != 0 {
		t.Errorf("FloodCycles = %d, want 0", s.FloodCycles)
	}
	if s.LastFlood != nil {
		t.Error("LastFlood should be nil")
	}
}

func TestDeepCopy_Independent(t *testing.T) {
	s := models.DefaultState()
	s.LastFlood = &models.FloodRecord{Reason: "shutoff_level", Level: 91}

	cp := s.DeepCopy()
	cp.LastFlood.Reason = "changed"
	cp.Version = 0x07

	if s.LastFlood.Reason != "shutoff_level" {
		t.Errorf("original LastFlood mutated: %q", s.LastFlood.Reason)
	}
	if s.Version != models.DefaultVersion {
		t.Errorf("original Version mutated: 0x%02x", s.Version)
	}
}

func TestState_JSONRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := models.State{
		Version:     0x07,
		FloodCycles: 3,
		LastBoot:    models.BootRecord{Outcome: "BOOT_COMPLETE", At: at},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var got models.State
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got.Version != 0x07 || got.FloodCycles != 3 || got.LastBoot.Outcome != "BOOT_COMPLETE" || !got.LastBoot.At.Equal(at) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestAppError_JSON(t *testing.T) {
	appErr := models.ErrNotFound("resource not found")

	data, err := json.Marshal(appErr)
	if err != nil {
		t.Fatalf("json.Marshal(AppError): %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if m["error"] != "NOT_FOUND" {
		t.Errorf("error = %v, want NOT_FOUND", m["error"])
	}
	if _, ok := m["status"]; ok {
		t.Error("AppError JSON should not contain 'status'")
	}
	if appErr.Error() != "resource not found" {
		t.Errorf("Error() = %q", appErr.Error())
	}
}

func TestAppError_Statuses(t *testing.T) {
	tests := []struct {
		err  *models.AppError
		want int
	}{
		{models.ErrNotFound("x"), 404},
		{models.ErrBadRequest("x"), 400},
		{models.ErrInternal("x"), 500},
		{models.ErrConflict("x"), 409},
		{models.ErrUnavailable("x"), 503},
	}
	for _, tt := range tests {
		if tt.err.Status != tt.want {
			t.Errorf("%s status = %d, want %d", tt.err.Code, tt.err.Status, tt.want)
		}
	}
}

func TestState_Equal(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := models.State{
		Version:     0x11,
		FloodCycles: 2,
		LastFlood:   &models.FloodRecord{Started: at, Stopped: at.Add(time.Minute), Reason: "low_level", Level: 8},
		LastBoot:    models.BootRecord{Outcome: "BOOT_COMPLETE", At: at},
	}

	tests := []struct {
		name   string
		modify func(s *models.State)
		want   bool
	}{
		{"copy", func(s *models.State) {}, true},
		{"same instant other zone", func(s *models.State) { s.LastBoot.At = at.In(time.FixedZone("X", 3600)) }, true},
		{"version", func(s *models.State) { s.Version = 0x07 }, false},
		{"cycles", func(s *models.State) { s.FloodCycles++ }, false},
		{"boot outcome", func(s *models.State) { s.LastBoot.Outcome = "FIVE_VOLT_POWER" }, false},
		{"flood reason", func(s *models.State) { s.LastFlood.Reason = "shutoff_level" }, false},
		{"flood cleared", func(s *models.State) { s.LastFlood = nil }, false},
	}
	for _, tt := range tests {
		cp := base.DeepCopy()
		tt.modify(&cp)
		if got := base.Equal(cp); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !models.DefaultState().Equal(models.DefaultState()) {
		t.Error("DefaultState should equal itself")
	}
}
