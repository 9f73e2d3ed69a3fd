// Package cert owns the TLS identity of each device service: self-signed
// certificate generation, expiry-driven renewal and subject-alternative-name
// maintenance when the host's address changes.
package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/google/uuid"
)

// GenerateKeyPair creates an ECDSA P-256 key pair.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// NewSelfSigned issues a self-signed certificate for the given service bound
// to ip. The subject CN is the service UUID so clients can pin identity to it.
func NewSelfSigned(serviceID uuid.UUID, ip net.IP, validity time.Duration, now time.Time) (keyPEM, certPEM []byte, err error) {
	key, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   serviceID.String(),
			Organization: []string{"OpenLabHost"},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{ip},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyPEM, err = EncodeKeyPEM(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode key: %w", err)
	}
	return keyPEM, EncodeCertPEM(der), nil
}

// resign issues a new certificate from the parsed template, self-signed with
// the same key. Callers mutate the template (expiry, SANs) before resigning;
// serial, subject and issuer are preserved.
func resign(template *x509.Certificate, keyPEM []byte) ([]byte, error) {
	key, err := DecodeKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to re-sign certificate: %w", err)
	}
	return EncodeCertPEM(der), nil
}
