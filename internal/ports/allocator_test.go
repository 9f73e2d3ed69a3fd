package ports

import (
	"testing"

	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAllocateSequentialFromBasePort(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	recA := &record.ServiceRecord{}
	recB := &record.ServiceRecord{}

	assert.Equal(t, 50051, a.Allocate("pump", recA, 0, 50051, false))
	assert.Equal(t, 50052, a.Allocate("valve", recB, 1, 50051, false))
	assert.Equal(t, 50051, recA.Port)
	assert.Equal(t, 50051, recA.BasePort)
}

func TestAllocateKeepsRecordedPort(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	// The service moved to index 2 since its last run but keeps its port.
	rec := &record.ServiceRecord{Port: 50055, BasePort: 50051}
	assert.Equal(t, 50055, a.Allocate("pump", rec, 2, 50051, false))
}

func TestAllocateRecomputesOnBasePortChange(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	rec := &record.ServiceRecord{Port: 50055, BasePort: 50051}
	port := a.Allocate("pump", rec, 0, 60000, false)

	assert.Equal(t, 60000, port)
	assert.Equal(t, 60000, rec.BasePort)
}

func TestAllocateRecomputesOnCommandLineOverride(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	rec := &record.ServiceRecord{Port: 50055, BasePort: 50051}
	port := a.Allocate("pump", rec, 1, 50100, true)

	assert.Equal(t, 50101, port)
	assert.Equal(t, 50100, rec.BasePort)
}

func TestAllocateOverrideRecomputesEvenWithSameBasePort(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	// An explicit command line override discards the recorded port even when
	// the base port value itself did not change.
	rec := &record.ServiceRecord{Port: 50055, BasePort: 50051}
	assert.Equal(t, 50051, a.Allocate("pump", rec, 0, 50051, true))
	assert.Equal(t, 50051, rec.Port)
}

func TestAllocateResolvesConflicts(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	recA := &record.ServiceRecord{Port: 50051, BasePort: 50051}
	recB := &record.ServiceRecord{Port: 50051, BasePort: 50051}

	portA := a.Allocate("pump", recA, 0, 50051, false)
	portB := a.Allocate("valve", recB, 1, 50051, false)

	assert.Equal(t, 50051, portA)
	assert.NotEqual(t, portA, portB)
	assert.Equal(t, portB, recB.Port)
}

func TestAllocateSkipsClaimedCandidates(t *testing.T) {
	a := NewAllocator(zap.NewNop())

	// First service holds what would be the second service's candidate.
	recA := &record.ServiceRecord{Port: 50052, BasePort: 50051}
	recB := &record.ServiceRecord{}

	assert.Equal(t, 50052, a.Allocate("pump", recA, 0, 50051, false))
	assert.Equal(t, 50053, a.Allocate("valve", recB, 1, 50051, false))
}
