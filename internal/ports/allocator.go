// Package ports hands out stable server ports for device services. A service
// keeps the port recorded from its last run unless the operator moved the
// base port, in which case the whole layout is recomputed.
package ports

import (
	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/KilianBerger/OpenLabHost/internal/types"
	"go.uber.org/zap"
)

// Allocator assigns one port per service within a single startup pass.
type Allocator struct {
	logger *zap.Logger

	claimed map[int]string
}

func NewAllocator(logger *zap.Logger) *Allocator {
	return &Allocator{
		logger:  logger,
		claimed: make(map[int]string),
	}
}

// Allocate picks the port for the named service and writes it into the
// record. The candidate is basePort plus the service's position in the
// configuration. A previously recorded port wins over the candidate unless
// the base port changed in the configuration or was overridden on the
// command line. Ports already claimed in this pass are skipped upwards.
func (a *Allocator) Allocate(name string, rec *record.ServiceRecord, index, basePort int, basePortOverridden bool) int {
	port := basePort + index

	if rec.Port != 0 {
		switch {
		case a.claimed[rec.Port] != "":
			a.logger.Warn("Recorded port already claimed, reassigning",
				zap.String("service", name),
				zap.Error(&types.PortConflictError{Service: name, Port: rec.Port, Owner: a.claimed[rec.Port]}))
		case basePortOverridden:
			a.logger.Warn("Base port overridden on the command line, reassigning port",
				zap.String("service", name),
				zap.Int("recorded_port", rec.Port),
				zap.Int("port", port))
		case rec.BasePort != 0 && rec.BasePort != basePort:
			a.logger.Warn("Base port changed in the configuration, reassigning port",
				zap.String("service", name),
				zap.Int("recorded_port", rec.Port),
				zap.Int("port", port))
		default:
			port = rec.Port
		}
	}

	for a.claimed[port] != "" {
		port++
	}

	a.claimed[port] = name
	rec.Port = port
	rec.BasePort = basePort
	return port
}
