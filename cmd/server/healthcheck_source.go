package main

import (
	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/api"
)

// swapperClientSource adapts the hot-swappable client for the availability
// warmer, so probe sweeps reach the provider set of the latest config
// reload rather than the one the process started with.
type swapperClientSource struct {
	swapper *api.ClientSwapper
}

func (s swapperClientSource) Acquire() (*infergate.Client, func()) {
	if s.swapper == nil {
		return nil, func() {}
	}
	return s.swapper.Acquire()
}
