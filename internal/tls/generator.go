package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// DefaultValidFor is the lifetime of generated certificates
const DefaultValidFor = 365 * 24 * time.Hour

// renewBefore is how close to expiry a generated certificate is replaced
const renewBefore = 30 * 24 * time.Hour

// GenerateSelfSigned writes a self-signed ECDSA pair for hosts. The first
// host becomes the common name.
func GenerateSelfSigned(hosts []string, validFor time.Duration, certFile, keyFile string) error {
	if len(hosts) == 0 {
		return errors.New("no hosts to certify")
	}
	if validFor <= 0 {
		validFor = DefaultValidFor
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0], Organization: []string{"edgeboard"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", certDER, 0o644); err != nil {
		return err
	}
	return writePEM(keyFile, "EC PRIVATE KEY", keyDER, 0o600)
}

func writePEM(filename, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(filename, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

// usablePair reports whether certFile/keyFile load and stay valid for
// longer than renewBefore.
func usablePair(certFile, keyFile string) bool {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return false
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return false
	}

	return time.Now().Add(renewBefore).Before(x509Cert.NotAfter)
}

// VerifyPair loads certFile/keyFile and checks that the certificate is
// currently valid and covers every host. It returns the expiry time.
func VerifyPair(certFile, keyFile string, hosts []string) (time.Time, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load certificate: %w", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.After(x509Cert.NotAfter) {
		return x509Cert.NotAfter, errors.New("certificate is expired")
	}
	if now.Before(x509Cert.NotBefore) {
		return x509Cert.NotAfter, errors.New("certificate is not yet valid")
	}

	for _, host := range hosts {
		if err := x509Cert.VerifyHostname(host); err != nil {
			return x509Cert.NotAfter, fmt.Errorf("host %s not covered: %w", host, err)
		}
	}

	return x509Cert.NotAfter, nil
}
