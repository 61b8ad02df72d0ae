//go:build !linux

package main

import (
	"errors"

	"github.com/greenloop/hydroctl/internal/config"
	"github.com/greenloop/hydroctl/internal/hardware"
)

func openBoard(*config.Settings) (hardware.Board, error) {
	return nil, errors.New("real hardware requires linux; use --mock")
}
