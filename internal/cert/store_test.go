package cert

import (
	"net"
	"testing"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/record"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testValidity  = 365 * 24 * time.Hour
	testThreshold = 30 * 24 * time.Hour
	testPeriod    = 365 * 24 * time.Hour
)

func newTestStore(t *testing.T) (*Store, *record.Store) {
	t.Helper()
	records := record.NewStore(t.TempDir(), zap.NewNop())
	return NewStore(records, testValidity, testThreshold, testPeriod, zap.NewNop()), records
}

func newTestRecord(t *testing.T, records *record.Store) *record.ServiceRecord {
	t.Helper()
	rec, err := records.Load("pump 1")
	require.NoError(t, err)
	return rec
}

func TestGetOrCreateGeneratesOnce(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	ip := net.ParseIP("192.168.1.10")

	require.NoError(t, store.GetOrCreate("pump 1", rec, ip))
	require.True(t, rec.HasCertificate())

	key, certPEM := rec.PrivateKeyPEM, rec.CertificatePEM
	require.NoError(t, store.GetOrCreate("pump 1", rec, ip))
	assert.Equal(t, key, rec.PrivateKeyPEM)
	assert.Equal(t, certPEM, rec.CertificatePEM)
}

func TestGetOrCreateBindsIdentity(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	ip := net.ParseIP("192.168.1.10")

	require.NoError(t, store.GetOrCreate("pump 1", rec, ip))

	parsed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)
	assert.Equal(t, rec.UUID.String(), parsed.Subject.CommonName)
	require.Len(t, parsed.IPAddresses, 1)
	assert.True(t, parsed.IPAddresses[0].Equal(ip))
}

func TestForceRegenerateReplacesKeyPair(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	ip := net.ParseIP("192.168.1.10")

	require.NoError(t, store.GetOrCreate("pump 1", rec, ip))
	oldKey := rec.PrivateKeyPEM

	require.NoError(t, store.ForceRegenerate("pump 1", rec, ip))
	assert.NotEqual(t, oldKey, rec.PrivateKeyPEM)
	assert.True(t, rec.HasCertificate())
}

func TestRenewSkipsValidCertificate(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	require.NoError(t, store.GetOrCreate("pump 1", rec, net.ParseIP("10.0.0.1")))

	before := rec.CertificatePEM
	require.NoError(t, store.RenewIfNearExpiry("pump 1", rec))
	assert.Equal(t, before, rec.CertificatePEM, "certificate far from expiry must not change")
}

func TestRenewExtendsNearExpiry(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	require.NoError(t, store.GetOrCreate("pump 1", rec, net.ParseIP("10.0.0.1")))

	original, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)

	// Jump to 10 days before expiry, inside the renewal threshold.
	store.SetClock(func() time.Time { return original.NotAfter.Add(-10 * 24 * time.Hour) })
	require.NoError(t, store.RenewIfNearExpiry("pump 1", rec))

	renewed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)
	assert.Equal(t, original.SerialNumber, renewed.SerialNumber)
	assert.True(t, renewed.NotAfter.Equal(original.NotAfter.Add(testPeriod)),
		"still valid certificates extend from their old expiry")
}

func TestRenewExtendsExpiredFromNow(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	require.NoError(t, store.GetOrCreate("pump 1", rec, net.ParseIP("10.0.0.1")))

	original, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)

	// The host was powered off for two years past expiry.
	now := original.NotAfter.Add(2 * 365 * 24 * time.Hour)
	store.SetClock(func() time.Time { return now })
	require.NoError(t, store.RenewIfNearExpiry("pump 1", rec))

	renewed, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)
	assert.True(t, renewed.NotAfter.Equal(now.Add(testPeriod)),
		"expired certificates extend from now, not from their old expiry")
}

func TestEnsureAddressCoveredAddsMissingIP(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	require.NoError(t, store.GetOrCreate("pump 1", rec, net.ParseIP("10.0.0.1")))

	original, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)

	newIP := net.ParseIP("192.168.1.20")
	require.NoError(t, store.EnsureAddressCovered("pump 1", rec, newIP))

	updated, err := DecodeCertPEM([]byte(rec.CertificatePEM))
	require.NoError(t, err)
	assert.Equal(t, original.SerialNumber, updated.SerialNumber)
	assert.True(t, updated.NotAfter.Equal(original.NotAfter))

	found := false
	for _, ip := range updated.IPAddresses {
		if ip.Equal(newIP) {
			found = true
		}
	}
	assert.True(t, found, "new address must appear in the SANs")
}

func TestEnsureAddressCoveredIsIdempotent(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	ip := net.ParseIP("10.0.0.1")
	require.NoError(t, store.GetOrCreate("pump 1", rec, ip))

	before := rec.CertificatePEM
	require.NoError(t, store.EnsureAddressCovered("pump 1", rec, ip))
	assert.Equal(t, before, rec.CertificatePEM, "covered address must not trigger a re-sign")
}

func TestExpiry(t *testing.T) {
	store, records := newTestStore(t)
	rec := newTestRecord(t, records)
	require.NoError(t, store.GetOrCreate("pump 1", rec, net.ParseIP("10.0.0.1")))

	notAfter, err := Expiry(rec)
	require.NoError(t, err)
	assert.False(t, notAfter.IsZero())
}

func TestNewSelfSignedDistinctSerials(t *testing.T) {
	id := uuid.New()
	_, certA, err := NewSelfSigned(id, net.ParseIP("10.0.0.1"), testValidity, time.Now())
	require.NoError(t, err)
	_, certB, err := NewSelfSigned(id, net.ParseIP("10.0.0.1"), testValidity, time.Now())
	require.NoError(t, err)

	a, err := DecodeCertPEM(certA)
	require.NoError(t, err)
	b, err := DecodeCertPEM(certB)
	require.NoError(t, err)
	assert.NotEqual(t, a.SerialNumber, b.SerialNumber)
}
