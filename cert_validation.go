package main

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"
)

// ValidationPolicy is the read-only input to certificate validation.
type ValidationPolicy struct {
	ExpectedHostnames []string
	MinValidityDays   int
}

// Validation failure reasons. Each ValidationError wraps exactly one of these
// so callers can distinguish them with errors.Is.
var (
	ErrMissingFile        = errors.New("required file missing")
	ErrMalformedInput     = errors.New("certificate or private key could not be parsed")
	ErrKeyMismatch        = errors.New("certificate and private key do not match")
	ErrExpiringSoon       = errors.New("certificate expires too soon")
	ErrHostnameNotCovered = errors.New("certificate does not cover required hostnames")
)

// ValidationError is a deterministic local validation failure. It is never
// retried and maps to its own process exit code.
type ValidationError struct {
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason.Error()
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// timeNow is swappable in tests so expiry boundaries can be pinned.
var timeNow = time.Now

// ValidateCertificatePair checks that the PEM certificate and private key
// belong together, that the certificate has enough validity left, and that it
// covers the expected hostnames. Checks run in order and the first failure
// aborts; every failure is a *ValidationError.
func ValidateCertificatePair(certPEM, keyPEM []byte, policy ValidationPolicy) error {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return &ValidationError{Reason: ErrMalformedInput, Detail: err.Error()}
	}

	key, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return &ValidationError{Reason: ErrMalformedInput, Detail: err.Error()}
	}

	if !publicKeysMatch(cert.PublicKey, key) {
		return &ValidationError{Reason: ErrKeyMismatch}
	}

	notAfter := cert.NotAfter.UTC()
	remaining := notAfter.Sub(timeNow().UTC())
	minValidity := time.Duration(policy.MinValidityDays) * 24 * time.Hour
	if remaining < minValidity {
		return &ValidationError{
			Reason: ErrExpiringSoon,
			Detail: fmt.Sprintf("expires in %d days, requires >= %d days", int(remaining.Hours()/24), policy.MinValidityDays),
		}
	}

	if len(policy.ExpectedHostnames) > 0 && !certificateCoversHosts(cert, policy.ExpectedHostnames) {
		return &ValidationError{
			Reason: ErrHostnameNotCovered,
			Detail: fmt.Sprintf("required hostnames: %s", strings.Join(policy.ExpectedHostnames, ", ")),
		}
	}

	return nil
}

func parseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in certificate input")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %v", err)
	}
	return cert, nil
}

// parsePrivateKeyPEM parses an unencrypted private key in PKCS#1, SEC1,
// PKCS#8, or OpenSSL-traditional DSA form, keyed off the PEM block type when
// it is specific. DSA needs its own ASN.1 decoding: none of the stdlib
// parsers produce a *dsa.PrivateKey.
func parsePrivateKeyPEM(keyPEM []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key input")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "DSA PRIVATE KEY":
		return parseDSAPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := parseDSAPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format %q", block.Type)
}

// dsaKeyASN1 is the OpenSSL traditional DSA private key layout:
// SEQUENCE { version, p, q, g, y, x }.
type dsaKeyASN1 struct {
	Version int
	P, Q, G *big.Int
	Y, X    *big.Int
}

func parseDSAPrivateKey(der []byte) (*dsa.PrivateKey, error) {
	var raw dsaKeyASN1
	rest, err := asn1.Unmarshal(der, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSA private key: %v", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after DSA private key")
	}
	return &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: raw.P, Q: raw.Q, G: raw.G},
			Y:          raw.Y,
		},
		X: raw.X,
	}, nil
}

// publicKeysMatch reports whether the certificate's embedded public key and
// the private key share the same algorithm family and public parameters.
// Cross-family pairs never match.
func publicKeysMatch(certKey crypto.PublicKey, privateKey crypto.PrivateKey) bool {
	switch certPub := certKey.(type) {
	case *rsa.PublicKey:
		priv, ok := privateKey.(*rsa.PrivateKey)
		return ok && certPub.N.Cmp(priv.N) == 0 && certPub.E == priv.E
	case *ecdsa.PublicKey:
		priv, ok := privateKey.(*ecdsa.PrivateKey)
		return ok && certPub.Curve == priv.Curve &&
			certPub.X.Cmp(priv.X) == 0 && certPub.Y.Cmp(priv.Y) == 0
	case *dsa.PublicKey:
		priv, ok := privateKey.(*dsa.PrivateKey)
		return ok && certPub.P.Cmp(priv.P) == 0 && certPub.Q.Cmp(priv.Q) == 0 &&
			certPub.G.Cmp(priv.G) == 0 && certPub.Y.Cmp(priv.Y) == 0
	}
	return false
}

// certificateCoversHosts checks every required hostname against the
// certificate's SAN DNS entries and Subject Common Name. A missing SAN
// extension is fine as long as the Common Name covers the hosts.
func certificateCoversHosts(cert *x509.Certificate, hosts []string) bool {
	names := make([]string, 0, len(cert.DNSNames)+1)
	for _, name := range cert.DNSNames {
		names = append(names, strings.ToLower(name))
	}
	if cn := cert.Subject.CommonName; cn != "" {
		names = append(names, strings.ToLower(cn))
	}

	for _, host := range hosts {
		hostLower := strings.ToLower(host)
		covered := false
		for _, pattern := range names {
			if matchHostname(pattern, hostLower) {
				covered = true
				break
			}
		}
		if !covered {
			logDebug("Hostname %s not covered by certificate names %v", hostLower, names)
			return false
		}
	}
	return true
}

// matchHostname matches a host against a certificate name with * and ?
// wildcards. Dots are rewritten to slashes so wildcards stay within a single
// DNS label: *.example.com covers a.example.com but not a.b.example.com.
func matchHostname(pattern, host string) bool {
	ok, err := path.Match(
		strings.ReplaceAll(pattern, ".", "/"),
		strings.ReplaceAll(host, ".", "/"),
	)
	return err == nil && ok
}
