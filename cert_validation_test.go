package main

import (
	"crypto/dsa"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"math/big"
	"testing"
	"time"

	"proxmox-cert-sync/testutil"
)

func testPolicy(hosts ...string) ValidationPolicy {
	return ValidationPolicy{ExpectedHostnames: hosts, MinValidityDays: 20}
}

func TestValidateCertificatePair_ValidRSAPair(t *testing.T) {
	certPEM, keyPEM, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}

	if err := ValidateCertificatePair(certPEM, keyPEM, testPolicy("pve.example.com")); err != nil {
		t.Errorf("Expected valid pair to pass, got: %v", err)
	}
}

func TestValidateCertificatePair_ValidECPair(t *testing.T) {
	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	certPEM, keyPEM, err := testutil.GenerateECCertificate("pve.example.com", notBefore, notAfter)
	if err != nil {
		t.Fatalf("Failed to generate EC certificate: %v", err)
	}

	if err := ValidateCertificatePair(certPEM, keyPEM, testPolicy("pve.example.com")); err != nil {
		t.Errorf("Expected valid EC pair to pass, got: %v", err)
	}
}

func TestValidateCertificatePair_MalformedInput(t *testing.T) {
	certPEM, keyPEM, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}

	tests := []struct {
		name    string
		certPEM []byte
		keyPEM  []byte
	}{
		{"garbage certificate", []byte("not a certificate"), keyPEM},
		{"garbage key", certPEM, []byte("not a key")},
		{"empty certificate", nil, keyPEM},
		{"empty key", certPEM, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCertificatePair(tt.certPEM, tt.keyPEM, testPolicy())
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("Expected ErrMalformedInput, got: %v", err)
			}
		})
	}
}

func TestValidateCertificatePair_KeyMismatch(t *testing.T) {
	certPEM, _, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}

	// Same family, different key
	_, otherKeyPEM, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate second certificate: %v", err)
	}

	err = ValidateCertificatePair(certPEM, otherKeyPEM, testPolicy())
	if !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("Expected ErrKeyMismatch for different RSA key, got: %v", err)
	}
}

func TestValidateCertificatePair_CrossFamilyMismatch(t *testing.T) {
	certPEM, _, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate RSA certificate: %v", err)
	}

	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	_, ecKeyPEM, err := testutil.GenerateECCertificate("pve.example.com", notBefore, notAfter)
	if err != nil {
		t.Fatalf("Failed to generate EC certificate: %v", err)
	}

	// RSA certificate with an EC key is always a mismatch
	err = ValidateCertificatePair(certPEM, ecKeyPEM, testPolicy())
	if !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("Expected ErrKeyMismatch for cross-family pair, got: %v", err)
	}
}

// encodeDSAKeyPEM builds an OpenSSL-traditional DSA private key PEM block.
// The parser does not validate the group parameters, so small fixed values
// keep the test fast and deterministic.
func encodeDSAKeyPEM(t *testing.T, key *dsa.PrivateKey) []byte {
	t.Helper()
	der, err := asn1.Marshal(dsaKeyASN1{
		P: key.P, Q: key.Q, G: key.G,
		Y: key.Y, X: key.X,
	})
	if err != nil {
		t.Fatalf("Failed to marshal DSA key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: der})
}

func testDSAKey() *dsa.PrivateKey {
	return &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{
				P: big.NewInt(283),
				Q: big.NewInt(47),
				G: big.NewInt(60),
			},
			Y: big.NewInt(158),
		},
		X: big.NewInt(15),
	}
}

func TestParsePrivateKeyPEM_DSA(t *testing.T) {
	want := testDSAKey()
	keyPEM := encodeDSAKeyPEM(t, want)

	parsed, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		t.Fatalf("Failed to parse DSA key: %v", err)
	}
	key, ok := parsed.(*dsa.PrivateKey)
	if !ok {
		t.Fatalf("Expected *dsa.PrivateKey, got %T", parsed)
	}
	if key.P.Cmp(want.P) != 0 || key.Q.Cmp(want.Q) != 0 ||
		key.G.Cmp(want.G) != 0 || key.Y.Cmp(want.Y) != 0 || key.X.Cmp(want.X) != 0 {
		t.Errorf("Parsed DSA key parameters do not round-trip: %+v", key)
	}
}

func TestPublicKeysMatch_DSA(t *testing.T) {
	key := testDSAKey()

	if !publicKeysMatch(&key.PublicKey, key) {
		t.Error("Expected a DSA key to match its own public key")
	}

	other := testDSAKey()
	other.Y = big.NewInt(229)
	if publicKeysMatch(&other.PublicKey, key) {
		t.Error("Expected DSA keys with different public values to mismatch")
	}

	certPEM, _, err := testutil.GenerateValidCertificate("pve.example.com")
	if err != nil {
		t.Fatalf("Failed to generate RSA certificate: %v", err)
	}
	cert, err := testutil.ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	if publicKeysMatch(cert.PublicKey, key) {
		t.Error("Expected an RSA certificate to mismatch a DSA key")
	}
}

func TestValidateCertificatePair_ExpiryBoundary(t *testing.T) {
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	originalNow := timeNow
	timeNow = func() time.Time { return fixed }
	defer func() { timeNow = originalNow }()

	const minDays = 20
	policy := ValidationPolicy{MinValidityDays: minDays}
	notBefore := fixed.Add(-24 * time.Hour)

	t.Run("exactly at threshold passes", func(t *testing.T) {
		notAfter := fixed.Add(minDays * 24 * time.Hour)
		certPEM, keyPEM, err := testutil.GenerateTestCertificate("pve.example.com", notBefore, notAfter)
		if err != nil {
			t.Fatalf("Failed to generate certificate: %v", err)
		}
		if err := ValidateCertificatePair(certPEM, keyPEM, policy); err != nil {
			t.Errorf("Certificate at the exact threshold should pass, got: %v", err)
		}
	})

	t.Run("one day under threshold fails", func(t *testing.T) {
		notAfter := fixed.Add((minDays - 1) * 24 * time.Hour)
		certPEM, keyPEM, err := testutil.GenerateTestCertificate("pve.example.com", notBefore, notAfter)
		if err != nil {
			t.Fatalf("Failed to generate certificate: %v", err)
		}
		err = ValidateCertificatePair(certPEM, keyPEM, policy)
		if !errors.Is(err, ErrExpiringSoon) {
			t.Errorf("Expected ErrExpiringSoon, got: %v", err)
		}
	})

	t.Run("already expired fails", func(t *testing.T) {
		notAfter := fixed.Add(-24 * time.Hour)
		certPEM, keyPEM, err := testutil.GenerateTestCertificate("pve.example.com", notBefore.Add(-48*time.Hour), notAfter)
		if err != nil {
			t.Fatalf("Failed to generate certificate: %v", err)
		}
		err = ValidateCertificatePair(certPEM, keyPEM, policy)
		if !errors.Is(err, ErrExpiringSoon) {
			t.Errorf("Expected ErrExpiringSoon, got: %v", err)
		}
	})
}

func TestValidateCertificatePair_HostnameCoverage(t *testing.T) {
	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(90 * 24 * time.Hour)

	wildcardCert, wildcardKey, err := testutil.GenerateTestCertificateWithSANs(
		"*.example.com", []string{"*.example.com"}, notBefore, notAfter)
	if err != nil {
		t.Fatalf("Failed to generate wildcard certificate: %v", err)
	}

	tests := []struct {
		name    string
		hosts   []string
		covered bool
	}{
		{"single label under wildcard", []string{"a.example.com"}, true},
		{"apex not covered by wildcard", []string{"example.com"}, false},
		{"wildcard does not cross labels", []string{"a.b.example.com"}, false},
		{"mixed case host", []string{"A.Example.COM"}, true},
		{"one covered one not", []string{"a.example.com", "other.org"}, false},
		{"no expected hostnames skips the check", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCertificatePair(wildcardCert, wildcardKey, testPolicy(tt.hosts...))
			if tt.covered && err != nil {
				t.Errorf("Expected coverage for %v, got: %v", tt.hosts, err)
			}
			if !tt.covered && !errors.Is(err, ErrHostnameNotCovered) {
				t.Errorf("Expected ErrHostnameNotCovered for %v, got: %v", tt.hosts, err)
			}
		})
	}
}

func TestValidateCertificatePair_CommonNameOnly(t *testing.T) {
	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := time.Now().Add(90 * 24 * time.Hour)

	// No SAN extension at all; Common Name coverage must suffice
	certPEM, keyPEM, err := testutil.GenerateTestCertificateWithSANs(
		"pve.example.com", nil, notBefore, notAfter)
	if err != nil {
		t.Fatalf("Failed to generate certificate: %v", err)
	}

	if err := ValidateCertificatePair(certPEM, keyPEM, testPolicy("pve.example.com")); err != nil {
		t.Errorf("Expected Common Name coverage to pass, got: %v", err)
	}

	err = ValidateCertificatePair(certPEM, keyPEM, testPolicy("other.example.com"))
	if !errors.Is(err, ErrHostnameNotCovered) {
		t.Errorf("Expected ErrHostnameNotCovered, got: %v", err)
	}
}

func TestMatchHostname(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		matched bool
	}{
		{"pve.example.com", "pve.example.com", true},
		{"pve.example.com", "other.example.com", false},
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "a.b.example.com", false},
		{"pve?.example.com", "pve1.example.com", true},
		{"pve?.example.com", "pve12.example.com", false},
		{"*", "example", true},
		{"*", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.host, func(t *testing.T) {
			if got := matchHostname(tt.pattern, tt.host); got != tt.matched {
				t.Errorf("matchHostname(%q, %q) = %t, expected %t", tt.pattern, tt.host, got, tt.matched)
			}
		})
	}
}
