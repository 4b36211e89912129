package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// GenerateTestCertificate creates a self-signed RSA certificate for testing
func GenerateTestCertificate(hostname string, notBefore, notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	return GenerateTestCertificateWithSANs(hostname, []string{hostname}, notBefore, notAfter)
}

// GenerateTestCertificateWithSANs creates a self-signed RSA certificate with
// an explicit Common Name and SAN DNS list. An empty SAN list produces a
// certificate without the SAN extension, covered by Common Name only.
func GenerateTestCertificateWithSANs(commonName string, dnsNames []string, notBefore, notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return certPEM, keyPEM, nil
}

// GenerateECCertificate creates a self-signed EC (P-256) certificate
func GenerateECCertificate(hostname string, notBefore, notAfter time.Time) (certPEM, keyPEM []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   hostname,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, err
	}

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyDER,
	})

	return certPEM, keyPEM, nil
}

// GenerateExpiredCertificate creates a certificate that has already expired
func GenerateExpiredCertificate(hostname string) (certPEM, keyPEM []byte, err error) {
	notBefore := time.Now().Add(-365 * 24 * time.Hour) // 1 year ago
	notAfter := time.Now().Add(-1 * 24 * time.Hour)    // 1 day ago
	return GenerateTestCertificate(hostname, notBefore, notAfter)
}

// GenerateNearExpiryCertificate creates a certificate that expires soon
func GenerateNearExpiryCertificate(hostname string, daysUntilExpiry int) (certPEM, keyPEM []byte, err error) {
	notBefore := time.Now().Add(-80 * 24 * time.Hour)
	notAfter := time.Now().Add(time.Duration(daysUntilExpiry) * 24 * time.Hour)
	return GenerateTestCertificate(hostname, notBefore, notAfter)
}

// GenerateValidCertificate creates a certificate with plenty of time left
func GenerateValidCertificate(hostname string) (certPEM, keyPEM []byte, err error) {
	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	return GenerateTestCertificate(hostname, notBefore, notAfter)
}

// ParseCertificatePEM parses a PEM-encoded certificate for testing
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}
