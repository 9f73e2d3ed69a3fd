package system

import (
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// HostPower shuts the host machine itself down, used when battery power is
// about to run out or clients have gone silent on a battery-backed system.
type HostPower interface {
	// Shutdown powers the host off. A forced shutdown happens immediately,
	// a graceful one gives the operator a short warning.
	Shutdown(force bool) error
}

// execHostPower invokes the platform shutdown command.
type execHostPower struct {
	logger *zap.Logger
}

func NewHostPower(logger *zap.Logger) HostPower {
	return &execHostPower{logger: logger}
}

func (h *execHostPower) Shutdown(force bool) error {
	args := []string{"-h", "+1"}
	if force {
		args = []string{"-h", "now"}
	}

	h.logger.Warn("Shutting down host machine",
		zap.Bool("force", force),
		zap.Strings("args", args))

	cmd := exec.Command("shutdown", args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shutdown command failed: %w", err)
	}
	return nil
}

// NopHostPower records shutdown requests instead of executing them. Used in
// tests and on development machines.
type NopHostPower struct {
	logger *zap.Logger

	mu       sync.Mutex
	requests []bool
}

func NewNopHostPower(logger *zap.Logger) *NopHostPower {
	return &NopHostPower{logger: logger}
}

func (h *NopHostPower) Shutdown(force bool) error {
	h.mu.Lock()
	h.requests = append(h.requests, force)
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Info("Host shutdown requested (noop)", zap.Bool("force", force))
	}
	return nil
}

// Requests returns the recorded shutdown requests, forced flag per call.
func (h *NopHostPower) Requests() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.requests...)
}
