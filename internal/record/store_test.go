package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadCreatesNewRecord(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	rec, err := store.Load("pump 1")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, rec.Version)
	assert.NotEqual(t, uuid.Nil, rec.UUID)
	assert.False(t, rec.HasCertificate())
}

func TestLoadReturnsSameRecord(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	rec, err := store.Load("pump 1")
	require.NoError(t, err)

	// A second store reading the same directory sees the persisted identity.
	other := NewStore(dir, zap.NewNop())
	again, err := other.Load("pump 1")
	require.NoError(t, err)
	assert.Equal(t, rec.UUID, again.UUID)
}

func TestLoadDistinctUUIDs(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	seen := make(map[uuid.UUID]bool)
	for _, name := range []string{"pump 1", "pump 2", "valve 1", "stirrer 1"} {
		rec, err := store.Load(name)
		require.NoError(t, err)
		assert.False(t, seen[rec.UUID], "uuid of %s already handed out", name)
		seen[rec.UUID] = true
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zap.NewNop())

	rec, err := store.Load("pump 1")
	require.NoError(t, err)

	counter := int64(42)
	rpm := 300.0
	rec.Port = 50055
	rec.BasePort = 50051
	rec.PrivateKeyPEM = "key"
	rec.CertificatePEM = "cert"
	rec.DrivePositionCounter = &counter
	rec.Stirring.RPM = &rpm
	require.NoError(t, store.Save("pump 1", rec))

	again, err := NewStore(dir, zap.NewNop()).Load("pump 1")
	require.NoError(t, err)
	assert.Equal(t, rec.UUID, again.UUID)
	assert.Equal(t, 50055, again.Port)
	assert.Equal(t, 50051, again.BasePort)
	assert.True(t, again.HasCertificate())
	require.NotNil(t, again.DrivePositionCounter)
	assert.Equal(t, int64(42), *again.DrivePositionCounter)
	require.NotNil(t, again.Stirring.RPM)
	assert.Equal(t, 300.0, *again.Stirring.RPM)
}

func TestLoadUpgradesOldRecord(t *testing.T) {
	dir := t.TempDir()

	// A version 0 record from the earliest builds: no uuid, no certificate.
	old := map[string]any{"version": 0, "port": 50051}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pump_1.json"), data, 0o600))

	store := NewStore(dir, zap.NewNop())
	rec, err := store.Load("pump 1")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, rec.Version)
	assert.NotEqual(t, uuid.Nil, rec.UUID, "upgrade must assign an identity")
	assert.Equal(t, 50051, rec.Port)

	// The upgrade is persisted, not just in memory.
	again, err := NewStore(dir, zap.NewNop()).Load("pump 1")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, again.Version)
	assert.Equal(t, rec.UUID, again.UUID)
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pump_1.json"), []byte("{not json"), 0o600))

	_, err := NewStore(dir, zap.NewNop()).Load("pump 1")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "pump_1", slugify(" pump 1 "))
	assert.Equal(t, "NemesysM1", slugify("Nemesys/M:1"))
	assert.Equal(t, "pump-2.cfg", slugify("pump-2.cfg"))
}
