//go:build linux

package main

import (
	"github.com/greenloop/hydroctl/internal/config"
	"github.com/greenloop/hydroctl/internal/hardware"
)

func openBoard(s *config.Settings) (hardware.Board, error) {
	return hardware.NewBoard(s.BoardConfig()), nil
}
