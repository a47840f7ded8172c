// Package localca is an in-process certificate authority. It signs CSRs with
// a configured (or generated) CA key, remembers what it issued per request
// and publishes a CRL for revoked serials.
package localca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
	"github.com/DebasishTripathy13/CA/internal/infra/pki"
)

const crlValidity = 7 * 24 * time.Hour

type Config struct {
	CertFile string
	KeyFile  string
	Validity time.Duration
	// CommonName names the generated root when no files are configured.
	CommonName string
}

type issuance struct {
	status domain.IssuanceStatus
	cert   *x509.Certificate
	pem    []byte
	detail string
}

type CA struct {
	cert       *x509.Certificate
	signer     crypto.Signer
	preparer   pki.Preparer
	translator pki.Translator
	rand       io.Reader
	now        func() time.Time

	mu        sync.Mutex
	issued    map[string]*issuance
	revoked   []x509.RevocationListEntry
	crl       []byte
	crlNumber int64
}

// New loads the CA from PEM files, or generates an ephemeral root when both
// paths are empty.
func New(cfg Config) (*CA, error) {
	if cfg.Validity <= 0 {
		cfg.Validity = 365 * 24 * time.Hour
	}
	var (
		cert   *x509.Certificate
		signer crypto.Signer
		err    error
	)
	switch {
	case cfg.CertFile == "" && cfg.KeyFile == "":
		name := cfg.CommonName
		if name == "" {
			name = "Certificate Assistant Development Root"
		}
		cert, signer, err = pki.SelfSignedCA(name, 10*365*24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("generate development root: %w", err)
		}
	case cfg.CertFile == "" || cfg.KeyFile == "":
		return nil, errors.New("both LOCAL_CA_CERT_FILE and LOCAL_CA_KEY_FILE are required")
	default:
		certPEM, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		keyPEM, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ca key: %w", err)
		}
		if cert, err = pki.ParseCertificate(certPEM); err != nil {
			return nil, err
		}
		if signer, err = pki.ParseSigner(keyPEM); err != nil {
			return nil, err
		}
	}
	return NewWithSigner(cert, signer, cfg.Validity)
}

func NewWithSigner(cert *x509.Certificate, signer crypto.Signer, validity time.Duration) (*CA, error) {
	if cert == nil || signer == nil {
		return nil, errors.New("ca certificate and signer are required")
	}
	if !cert.IsCA {
		return nil, errors.New("ca certificate is not marked as a CA")
	}
	return &CA{
		cert:     cert,
		signer:   signer,
		preparer: pki.NewPreparer(validity, 16),
		rand:     rand.Reader,
		now:      time.Now,
		issued:   make(map[string]*issuance),
	}, nil
}

func (c *CA) Certificate() *x509.Certificate {
	return c.cert
}

func (c *CA) Submit(_ context.Context, req domain.CertificateRequest) (domain.SubmitOutcome, error) {
	csr, err := pki.ParseCSR([]byte(req.CSRContent))
	if err != nil {
		c.record(req.ID, &issuance{status: domain.IssuanceError, detail: err.Error()})
		return domain.SubmitOutcome{Status: domain.SubmitError, Detail: err.Error()}, nil
	}
	template := c.translator.CSRToCertificate(csr)
	if err := c.preparer.Prepare(c.rand, template); err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("prepare certificate: %w", err)
	}
	der, err := x509.CreateCertificate(c.rand, template, c.cert, template.PublicKey, c.signer)
	if err != nil {
		c.record(req.ID, &issuance{status: domain.IssuanceError, detail: err.Error()})
		return domain.SubmitOutcome{Status: domain.SubmitError, Detail: err.Error()}, nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return domain.SubmitOutcome{}, fmt.Errorf("parse issued certificate: %w", err)
	}
	c.record(req.ID, &issuance{status: domain.IssuanceIssued, cert: cert, pem: pki.EncodeCertificate(der)})
	return domain.SubmitOutcome{
		Status:    domain.SubmitSuccess,
		Detail:    "issued serial " + cert.SerialNumber.Text(16),
		Reference: cert.SerialNumber.Text(16),
	}, nil
}

func (c *CA) RetrieveStatus(_ context.Context, req domain.CertificateRequest) (domain.StatusOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.issued[req.ID]
	if !ok {
		return domain.StatusOutcome{}, fmt.Errorf("%w: no submission for request %s", domain.ErrNotFound, req.ID)
	}
	return domain.StatusOutcome{
		Status:         item.status,
		CertificatePEM: append([]byte(nil), item.pem...),
		Detail:         item.detail,
	}, nil
}

// Revoke adds the request's certificate to the next CRL. The serial comes
// from the request row when set, otherwise from this process's issuance table.
func (c *CA) Revoke(_ context.Context, req domain.CertificateRequest, reason string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	serial, err := c.serialFor(req)
	if err != nil {
		return false, err
	}
	for _, entry := range c.revoked {
		if entry.SerialNumber.Cmp(serial) == 0 {
			return true, nil
		}
	}
	c.revoked = append(c.revoked, x509.RevocationListEntry{
		SerialNumber:   serial,
		RevocationTime: c.now().UTC(),
		ReasonCode:     ReasonCode(reason),
	})
	return true, nil
}

func (c *CA) serialFor(req domain.CertificateRequest) (*big.Int, error) {
	if req.CertSerial != "" {
		serial, ok := new(big.Int).SetString(req.CertSerial, 16)
		if !ok || serial.Sign() <= 0 {
			return nil, fmt.Errorf("invalid certificate serial %q for request %s", req.CertSerial, req.ID)
		}
		return serial, nil
	}
	item, ok := c.issued[req.ID]
	if !ok || item.status != domain.IssuanceIssued || item.cert == nil {
		return nil, fmt.Errorf("no issued certificate for request %s", req.ID)
	}
	return new(big.Int).Set(item.cert.SerialNumber), nil
}

func (c *CA) RefreshRevocationList(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	c.crlNumber++
	template := &x509.RevocationList{
		Number:                    big.NewInt(c.crlNumber),
		ThisUpdate:                now,
		NextUpdate:                now.Add(crlValidity),
		RevokedCertificateEntries: append([]x509.RevocationListEntry(nil), c.revoked...),
	}
	der, err := x509.CreateRevocationList(c.rand, template, c.cert, c.signer)
	if err != nil {
		c.crlNumber--
		return false, fmt.Errorf("create crl: %w", err)
	}
	c.crl = der
	return true, nil
}

// CRL returns the DER of the last published revocation list, if any.
func (c *CA) CRL() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.crl...)
}

func (c *CA) record(requestID string, item *issuance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued[requestID] = item
}

// ReasonCode maps free-text reasons onto RFC 5280 CRLReason values.
func ReasonCode(reason string) int {
	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(reason))
	switch normalized {
	case "keycompromise":
		return 1
	case "cacompromise":
		return 2
	case "affiliationchanged":
		return 3
	case "superseded":
		return 4
	case "cessationofoperation":
		return 5
	case "certificatehold":
		return 6
	case "privilegewithdrawn":
		return 9
	default:
		return 0
	}
}
