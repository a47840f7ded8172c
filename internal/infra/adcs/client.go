// Package adcs talks to Active Directory Certificate Services through its
// web enrollment pages (certsrv).
package adcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

var (
	// ErrUnsupported is returned for operations web enrollment cannot do.
	ErrUnsupported = errors.New("adcs: operation not supported over web enrollment")

	issuedLinkPattern = regexp.MustCompile(`certnew\.cer\?ReqID=(\d+)`)
	pendingPattern    = regexp.MustCompile(`(?i)Your Request Id is (\d+)`)
	deniedPattern     = regexp.MustCompile(`(?i)(denied by policy module|The disposition message is "([^"]*)")`)
)

type Config struct {
	Host     string
	CAName   string
	Username string
	Password string
	Template string
	Timeout  time.Duration
}

type Client struct {
	host       string
	caName     string
	username   string
	password   string
	template   string
	httpClient *http.Client

	mu     sync.Mutex
	reqIDs map[string]string // our request id -> ADCS request id
}

func New(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errors.New("ADCS_HOST is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if cfg.Template == "" {
		cfg.Template = "WebServer"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		host:       host,
		caName:     cfg.CAName,
		username:   cfg.Username,
		password:   cfg.Password,
		template:   cfg.Template,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		reqIDs:     make(map[string]string),
	}, nil
}

func (c *Client) Submit(ctx context.Context, req domain.CertificateRequest) (domain.SubmitOutcome, error) {
	if c == nil {
		return domain.SubmitOutcome{}, errors.New("adcs client is nil")
	}
	if strings.TrimSpace(req.CSRContent) == "" {
		return domain.SubmitOutcome{Status: domain.SubmitError, Detail: "request has no CSR"}, nil
	}
	form := url.Values{}
	form.Set("Mode", "newreq")
	form.Set("CertRequest", req.CSRContent)
	form.Set("CertAttrib", "CertificateTemplate:"+c.template)
	form.Set("TargetStoreFlags", "0")
	form.Set("SaveCert", "yes")

	body, status, err := c.do(ctx, http.MethodPost, "/certsrv/certfnsh.asp", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	if status != http.StatusOK {
		return domain.SubmitOutcome{}, fmt.Errorf("adcs submit failed: status %d", status)
	}
	page := string(body)
	if m := issuedLinkPattern.FindStringSubmatch(page); m != nil {
		c.remember(req.ID, m[1])
		return domain.SubmitOutcome{Status: domain.SubmitSuccess, Detail: c.describe("issued", m[1]), Reference: m[1]}, nil
	}
	if m := pendingPattern.FindStringSubmatch(page); m != nil {
		c.remember(req.ID, m[1])
		return domain.SubmitOutcome{Status: domain.SubmitSuccess, Detail: c.describe("pending", m[1]), Reference: m[1]}, nil
	}
	detail := "request not accepted by ADCS"
	if m := deniedPattern.FindStringSubmatch(page); m != nil {
		detail = m[1]
		if m[2] != "" {
			detail = m[2]
		}
	}
	return domain.SubmitOutcome{Status: domain.SubmitError, Detail: detail}, nil
}

// RetrieveStatus looks up the ADCS ReqID stored on the request, falling back
// to submissions made by this process.
func (c *Client) RetrieveStatus(ctx context.Context, req domain.CertificateRequest) (domain.StatusOutcome, error) {
	if c == nil {
		return domain.StatusOutcome{}, errors.New("adcs client is nil")
	}
	adcsID := strings.TrimSpace(req.CASubmissionRef)
	if adcsID == "" {
		c.mu.Lock()
		adcsID = c.reqIDs[req.ID]
		c.mu.Unlock()
	}
	if adcsID == "" {
		return domain.StatusOutcome{}, fmt.Errorf("%w: no ADCS submission for request %s", domain.ErrNotFound, req.ID)
	}
	path := "/certsrv/certnew.cer?ReqID=" + url.QueryEscape(adcsID) + "&Enc=b64"
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.StatusOutcome{}, err
	}
	if status != http.StatusOK {
		return domain.StatusOutcome{}, fmt.Errorf("adcs retrieve failed: status %d", status)
	}
	text := string(body)
	switch {
	case strings.Contains(text, "-----BEGIN CERTIFICATE-----"):
		return domain.StatusOutcome{Status: domain.IssuanceIssued, CertificatePEM: body}, nil
	case pendingPattern.MatchString(text) || strings.Contains(strings.ToLower(text), "pending"):
		return domain.StatusOutcome{Status: domain.IssuancePending}, nil
	default:
		detail := "certificate not available"
		if m := deniedPattern.FindStringSubmatch(text); m != nil {
			detail = m[1]
		}
		return domain.StatusOutcome{Status: domain.IssuanceError, Detail: detail}, nil
	}
}

// Revoke needs certutil or the ICertAdmin interface on the CA host.
func (c *Client) Revoke(context.Context, domain.CertificateRequest, string) (bool, error) {
	return false, ErrUnsupported
}

func (c *Client) RefreshRevocationList(context.Context) (bool, error) {
	return false, ErrUnsupported
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return payload, resp.StatusCode, nil
}

func (c *Client) remember(requestID, adcsID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqIDs[requestID] = adcsID
}

func (c *Client) describe(state, adcsID string) string {
	target := c.host
	if c.caName != "" {
		target += `\` + c.caName
	}
	return fmt.Sprintf("%s by %s (ADCS request %s)", state, target, adcsID)
}
