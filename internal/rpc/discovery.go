package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/enbility/zeroconf/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const discoveryServiceType = "_labhost._tcp"

// Announcer publishes one service over mDNS until shut down.
type Announcer struct {
	server *zeroconf.Server
	logger *zap.Logger
	name   string
}

// Announce registers the service on the local network so clients can find it
// without knowing the port layout. The TXT record carries the service UUID
// and, when a trust anchor is given, its SHA-256 fingerprint so clients can
// pin the self-signed certificate they are about to see.
func Announce(name string, uniqueID uuid.UUID, port int, caForDiscovery []byte, logger *zap.Logger) (*Announcer, error) {
	txt := []string{
		"uuid=" + uniqueID.String(),
		"name=" + name,
	}
	if len(caForDiscovery) > 0 {
		sum := sha256.Sum256(caForDiscovery)
		txt = append(txt, "ca_fp="+hex.EncodeToString(sum[:]))
	}

	server, err := zeroconf.Register(name, discoveryServiceType, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logger.Info("Announcing service via mDNS",
		zap.String("service", name),
		zap.String("type", discoveryServiceType),
		zap.Int("port", port))

	return &Announcer{server: server, logger: logger, name: name}, nil
}

func (a *Announcer) Shutdown() {
	a.server.Shutdown()
	a.logger.Debug("Stopped announcing service", zap.String("service", a.name))
}
