package cert

import (
	"fmt"
	"net"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/KilianBerger/OpenLabHost/internal/types"
	"go.uber.org/zap"
)

// Store applies certificate lifecycle operations to service records and
// persists the results. All operations are idempotent except ForceRegenerate.
type Store struct {
	records *record.Store
	logger  *zap.Logger

	validity         time.Duration
	renewalThreshold time.Duration
	renewalPeriod    time.Duration

	now func() time.Time
}

func NewStore(records *record.Store, validity, renewalThreshold, renewalPeriod time.Duration, logger *zap.Logger) *Store {
	return &Store{
		records:          records,
		logger:           logger,
		validity:         validity,
		renewalThreshold: renewalThreshold,
		renewalPeriod:    renewalPeriod,
		now:              time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// GetOrCreate ensures the record carries a key pair, generating a fresh
// self-signed certificate bound to ip when it has none.
func (s *Store) GetOrCreate(name string, rec *record.ServiceRecord, ip net.IP) error {
	if rec.HasCertificate() {
		return nil
	}

	s.logger.Info("Generating self-signed certificate",
		zap.String("service", name),
		zap.String("uuid", rec.UUID.String()))

	keyPEM, certPEM, err := NewSelfSigned(rec.UUID, ip, s.validity, s.now())
	if err != nil {
		return &types.CertificateError{Service: name, Op: "generation", Err: err}
	}

	rec.PrivateKeyPEM = string(keyPEM)
	rec.CertificatePEM = string(certPEM)
	if err := s.records.Save(name, rec); err != nil {
		return &types.CertificateError{Service: name, Op: "persistence", Err: err}
	}
	return nil
}

// ForceRegenerate always issues a brand-new key and certificate.
func (s *Store) ForceRegenerate(name string, rec *record.ServiceRecord, ip net.IP) error {
	rec.PrivateKeyPEM = ""
	rec.CertificatePEM = ""
	return s.GetOrCreate(name, rec, ip)
}

// RenewIfNearExpiry extends the certificate's validity when it is closer than
// the renewal threshold to expiring. The new expiry is computed from
// max(not_after, now) + renewal_period so an already-expired certificate is
// extended from today instead of compounding short extensions, while a still
// valid one keeps its full remaining time. No-op otherwise.
func (s *Store) RenewIfNearExpiry(name string, rec *record.ServiceRecord) error {
	parsed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	if err != nil {
		return &types.CertificateError{Service: name, Op: "renewal", Err: err}
	}

	now := s.now()
	expiresIn := parsed.NotAfter.Sub(now)
	if expiresIn >= s.renewalThreshold {
		s.logger.Debug("Certificate still valid",
			zap.String("service", name),
			zap.Duration("expires_in", expiresIn))
		return nil
	}

	notAfter := parsed.NotAfter
	if now.After(notAfter) {
		notAfter = now
	}
	notAfter = notAfter.Add(s.renewalPeriod)

	s.logger.Warn("Renewing certificate",
		zap.String("service", name),
		zap.Duration("expires_in", expiresIn),
		zap.Time("new_not_after", notAfter))

	parsed.NotAfter = notAfter
	certPEM, err := resign(parsed, []byte(rec.PrivateKeyPEM))
	if err != nil {
		return &types.CertificateError{Service: name, Op: "renewal", Err: err}
	}

	rec.CertificatePEM = string(certPEM)
	if err := s.records.Save(name, rec); err != nil {
		return &types.CertificateError{Service: name, Op: "persistence", Err: err}
	}
	return nil
}

// EnsureAddressCovered re-issues the certificate with ip appended to its
// subject alternative addresses when it is not already covered. Key, serial
// and validity are preserved; no-op when the address is present.
func (s *Store) EnsureAddressCovered(name string, rec *record.ServiceRecord, ip net.IP) error {
	parsed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	if err != nil {
		return &types.CertificateError{Service: name, Op: "san update", Err: err}
	}

	for _, existing := range parsed.IPAddresses {
		if existing.Equal(ip) {
			return nil
		}
	}

	s.logger.Warn("Address missing from certificate, adding it",
		zap.String("service", name),
		zap.String("ip", ip.String()))

	parsed.IPAddresses = append(parsed.IPAddresses, ip)
	certPEM, err := resign(parsed, []byte(rec.PrivateKeyPEM))
	if err != nil {
		return &types.CertificateError{Service: name, Op: "san update", Err: err}
	}

	rec.CertificatePEM = string(certPEM)
	if err := s.records.Save(name, rec); err != nil {
		return &types.CertificateError{Service: name, Op: "persistence", Err: err}
	}
	return nil
}

// Expiry returns the certificate's not-after timestamp.
func Expiry(rec *record.ServiceRecord) (time.Time, error) {
	parsed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return parsed.NotAfter, nil
}
