package types

import "fmt"

// BusOpenError is fatal: without the hardware bus the controller cannot run.
type BusOpenError struct {
	ConfigPath string
	Err        error
}

func (e *BusOpenError) Error() string {
	return fmt.Sprintf("failed to open bus with configuration %s: %v", e.ConfigPath, e.Err)
}

func (e *BusOpenError) Unwrap() error { return e.Err }

// ServiceProvisioningError is recoverable at service granularity: the affected
// service is skipped, all others keep running.
type ServiceProvisioningError struct {
	Service string
	Err     error
}

func (e *ServiceProvisioningError) Error() string {
	return fmt.Sprintf("failed to provision service %s: %v", e.Service, e.Err)
}

func (e *ServiceProvisioningError) Unwrap() error { return e.Err }

// CertificateError wraps any failed cryptographic operation during
// certificate generation or renewal.
type CertificateError struct {
	Service string
	Op      string
	Err     error
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate %s failed for service %s: %v", e.Op, e.Service, e.Err)
}

func (e *CertificateError) Unwrap() error { return e.Err }

// PortConflictError is recovered automatically by reassignment; it surfaces
// only in logs.
type PortConflictError struct {
	Service string
	Port    int
	Owner   string
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("port %d requested by service %s is already claimed by %s", e.Port, e.Service, e.Owner)
}

// UnknownDeviceTypeError means the configuration names a device type this
// build has no driver for. The device is skipped.
type UnknownDeviceTypeError struct {
	Device string
	Type   string
}

func (e *UnknownDeviceTypeError) Error() string {
	return fmt.Sprintf("device %s has unknown type %q", e.Device, e.Type)
}

// DeviceNotOperationalError is returned verbatim to RPC callers while the
// system is not in the Operational state.
type DeviceNotOperationalError struct {
	Device string
	State  string
}

func (e *DeviceNotOperationalError) Error() string {
	return fmt.Sprintf("device %s cannot execute commands while the system is %s", e.Device, e.State)
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
