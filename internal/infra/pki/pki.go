// Package pki holds the x509 plumbing shared by the CSR handling and the
// in-process CA: key and CSR generation, CSR checks, and certificate
// template preparation.
package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/mail"
	"strings"
	"time"
)

// Generator creates a fresh ECDSA P-256 key and a CSR for it.
type Generator struct {
	Rand io.Reader
}

func (g Generator) GenerateKeyAndCSR(commonName string, sans []string) ([]byte, []byte, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), r)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	template := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: commonName},
	}
	ApplySANs(template, commonName, sans)
	der, err := x509.CreateCertificateRequest(r, template, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create csr: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
	return keyPEM, csrPEM, nil
}

// ApplySANs sorts SAN entries into DNS, IP and email names. The common name
// is always carried as a DNS name when it looks like one.
func ApplySANs(csr *x509.CertificateRequest, commonName string, sans []string) {
	seen := map[string]bool{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		if ip := net.ParseIP(v); ip != nil {
			csr.IPAddresses = append(csr.IPAddresses, ip)
			return
		}
		if _, err := mail.ParseAddress(v); err == nil && strings.Contains(v, "@") {
			csr.EmailAddresses = append(csr.EmailAddresses, v)
			return
		}
		csr.DNSNames = append(csr.DNSNames, v)
	}
	if !strings.Contains(commonName, " ") {
		add(commonName)
	}
	for _, san := range sans {
		add(san)
	}
}

// ParseCSR decodes a PEM CSR and verifies its self-signature.
func ParseCSR(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil {
		return nil, errors.New("csr is not PEM encoded")
	}
	if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse csr: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("csr signature: %w", err)
	}
	return csr, nil
}

type CSRValidator struct{}

// ValidateCSR requires a well-formed, self-signed CSR whose subject or SANs
// name commonName.
func (CSRValidator) ValidateCSR(csrPEM []byte, commonName string) error {
	csr, err := ParseCSR(csrPEM)
	if err != nil {
		return err
	}
	if strings.EqualFold(csr.Subject.CommonName, commonName) {
		return nil
	}
	for _, name := range csr.DNSNames {
		if strings.EqualFold(name, commonName) {
			return nil
		}
	}
	return fmt.Errorf("csr does not name %q", commonName)
}

// Translator turns a CSR into an end-entity certificate template.
type Translator struct{}

func (Translator) CSRToCertificate(csr *x509.CertificateRequest) *x509.Certificate {
	return &x509.Certificate{
		Subject:            csr.Subject,
		PublicKey:          csr.PublicKey,
		PublicKeyAlgorithm: csr.PublicKeyAlgorithm,

		DNSNames:       csr.DNSNames,
		EmailAddresses: csr.EmailAddresses,
		IPAddresses:    csr.IPAddresses,

		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},

		BasicConstraintsValid: true,
		IsCA:                  false,
	}
}

// Preparer stamps a random serial and a validity window onto a template.
type Preparer struct {
	Duration    time.Duration
	SerialBytes int
	Now         func() time.Time
}

func NewPreparer(duration time.Duration, serialBytes int) Preparer {
	return Preparer{Duration: duration, SerialBytes: serialBytes, Now: time.Now}
}

func (p Preparer) Prepare(r io.Reader, cert *x509.Certificate) error {
	serial, err := p.GenerateSerial(r)
	if err != nil {
		return err
	}
	cert.SerialNumber = serial
	if cert.NotBefore.IsZero() || cert.NotAfter.IsZero() {
		now := time.Now()
		if p.Now != nil {
			now = p.Now()
		}
		// Backdate slightly for clock skew between CA and relying parties.
		cert.NotBefore = now.Add(-time.Minute).UTC()
		cert.NotAfter = now.Add(p.Duration).UTC()
	}
	return nil
}

func (p Preparer) GenerateSerial(r io.Reader) (*big.Int, error) {
	n := p.SerialBytes
	if n <= 0 {
		n = 16
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read serial entropy: %w", err)
	}
	// Keep serials positive and non-zero.
	data[0] &= 0x7f
	data[0] |= 0x01
	return new(big.Int).SetBytes(data), nil
}

// SelfSignedCA builds a throwaway root for development and tests.
func SelfSignedCA(commonName string, validity time.Duration) (*x509.Certificate, crypto.Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		Subject:               pkix.Name{CommonName: commonName},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if err := NewPreparer(validity, 16).Prepare(rand.Reader, template); err != nil {
		return nil, nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func EncodeCertificate(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// ParseSigner reads a PKCS#8, PKCS#1 or SEC1 private key in PEM form.
func ParseSigner(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, errors.New("pkcs8 key is not a signer")
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("unsupported private key format")
}

func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("certificate is not a PEM CERTIFICATE block")
	}
	return x509.ParseCertificate(block.Bytes)
}
