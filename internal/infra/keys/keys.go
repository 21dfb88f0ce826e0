// Package keys loads, generates, and persists the PEM-encoded key material
// used to sign reports. Only RSA and ECDSA keys are accepted; everything
// else is rejected up front so the signature engine never sees a key variant
// it cannot dispatch on.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jux/internal/domain"
)

const (
	pemCertificate     = "CERTIFICATE"
	pemPKCS1PrivateKey = "RSA PRIVATE KEY"
	pemECPrivateKey    = "EC PRIVATE KEY"
	pemPKCS8PrivateKey = "PRIVATE KEY"
)

const MinRSABits = 2048

// ParsePrivateKey scans concatenated PEM data and returns the first RSA or
// ECDSA private key found. PKCS#1, SEC1, and PKCS#8 containers are
// supported. A parseable key of any other variant is ErrUnsupportedKeyType.
func ParsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	rest := pemBytes
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case pemPKCS1PrivateKey:
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pkcs1 private key: %w", err)
			}
			return key, nil
		case pemECPrivateKey:
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse ec private key: %w", err)
			}
			return key, nil
		case pemPKCS8PrivateKey:
			parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
			}
			switch key := parsed.(type) {
			case *rsa.PrivateKey:
				return key, nil
			case *ecdsa.PrivateKey:
				return key, nil
			default:
				return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedKeyType, parsed)
			}
		}
	}
	return nil, errors.New("no private key found in PEM data")
}

// LoadPrivateKey reads an unencrypted PEM private key from disk.
func LoadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return ParsePrivateKey(data)
}

// ParseCertificate returns the first CERTIFICATE block in the PEM data.
func ParseCertificate(pemBytes []byte) (*x509.Certificate, error) {
	rest := pemBytes
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert, nil
	}
	return nil, errors.New("no certificate found in PEM data")
}

// LoadCertificate reads a PEM certificate from disk.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate %s: %w", path, err)
	}
	return ParseCertificate(data)
}

// GenerateRSA creates a new RSA signing key. Keys below 2048 bits are
// refused.
func GenerateRSA(bits int) (*rsa.PrivateKey, error) {
	if bits < MinRSABits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSABits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}

// GenerateECDSA creates a new ECDSA signing key on the named curve
// (P-256, P-384, or P-521).
func GenerateECDSA(curve string) (*ecdsa.PrivateKey, error) {
	var c elliptic.Curve
	switch strings.ToUpper(strings.ReplaceAll(curve, "-", "")) {
	case "P256", "":
		c = elliptic.P256()
	case "P384":
		c = elliptic.P384()
	case "P521":
		c = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: curve %q", domain.ErrUnsupportedAlgorithm, curve)
	}
	key, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return key, nil
}

// SelfSignedCertificate issues a certificate over the key's public half so a
// verifier needs no out-of-band key exchange. The result is self-signed and
// carries no trust chain.
func SelfSignedCertificate(key crypto.Signer, commonName string, validDays int) (*x509.Certificate, error) {
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnsupportedKeyType, key)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(0, 0, validDays),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// EncodePrivateKey renders the key as an unencrypted PKCS#8 PEM block.
func EncodePrivateKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPKCS8PrivateKey, Bytes: der}), nil
}

// EncodeCertificate renders the certificate as a PEM block.
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemCertificate, Bytes: cert.Raw})
}

// SavePrivateKey writes the key with owner-only permissions.
func SavePrivateKey(path string, key crypto.Signer) error {
	data, err := EncodePrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write private key %s: %w", path, err)
	}
	return nil
}

// SaveCertificate writes the certificate next to its key. Certificates are
// public material, so group/world read is fine.
func SaveCertificate(path string, cert *x509.Certificate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create certificate directory: %w", err)
	}
	if err := os.WriteFile(path, EncodeCertificate(cert), 0o644); err != nil {
		return fmt.Errorf("write certificate %s: %w", path, err)
	}
	return nil
}
