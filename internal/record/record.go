// Package record persists the per-service identity record: UUID, port,
// private key and certificate, plus device-specific counters. Records survive
// restarts so services keep a stable identity and advertised port.
package record

import (
	"github.com/google/uuid"
)

// CurrentVersion is the record schema version written by this build.
// Each field group is upgraded independently when an older record is loaded:
// v1 introduced the TLS key/certificate pair, v2 the stirring state.
const CurrentVersion = 2

// StirringState persists the last commanded stirrer setpoints so they can be
// restored after a restart.
type StirringState struct {
	RPM   *float64 `json:"rpm,omitempty"`
	Power *float64 `json:"power,omitempty"`
}

// ServiceRecord is the on-disk state of one device service.
type ServiceRecord struct {
	Version  int       `json:"version"`
	UUID     uuid.UUID `json:"uuid"`
	Port     int       `json:"port,omitempty"`
	BasePort int       `json:"base_port,omitempty"`

	PrivateKeyPEM  string `json:"ssl_private_key,omitempty"`
	CertificatePEM string `json:"ssl_certificate,omitempty"`

	DrivePositionCounter *int64        `json:"drive_position_counter,omitempty"`
	Stirring             StirringState `json:"stirring,omitempty"`
}

// HasCertificate reports whether the record carries a usable key pair.
func (r *ServiceRecord) HasCertificate() bool {
	return r.PrivateKeyPEM != "" && r.CertificatePEM != ""
}
