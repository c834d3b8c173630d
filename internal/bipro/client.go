package bipro

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	stsTimeout  = 30 * time.Second
	listTimeout = 60 * time.Second
	getTimeout  = 120 * time.Second
	ackTimeout  = 30 * time.Second
)

// Credentials carries one VU connection's auth material. Username/password
// drives the STS flow; a PFX, JKS or PEM pair switches the client to
// mutual TLS without tokens.
type Credentials struct {
	Username string
	Password string

	PFXPath     string
	PFXPassword string

	JKSPath        string
	JKSPassword    string
	JKSAlias       string
	JKSKeyPassword string

	CertPEMPath string
	KeyPEMPath  string
}

// Client talks norm 430 (Transferservice) to one insurer endpoint.
type Client struct {
	endpoint   string
	stsURL     string
	vuName     string
	consumerID string
	profile    Profile
	creds      Credentials
	certAuth   bool

	hc  *http.Client
	sts *stsCache

	mu        sync.Mutex
	tempFiles []string
}

// Config describes one VU connection.
type Config struct {
	Endpoint    string
	STSURL      string
	VUName      string
	ConsumerID  string
	Credentials Credentials
}

// New builds a client for one VU. Keystore material is converted to PEM
// temp files immediately; call Shutdown to erase them.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("bipro: endpoint required")
	}
	c := &Client{
		endpoint:   cfg.Endpoint,
		stsURL:     cfg.STSURL,
		vuName:     cfg.VUName,
		consumerID: cfg.ConsumerID,
		profile:    DetectProfile(cfg.VUName, cfg.Endpoint),
		creds:      cfg.Credentials,
		sts:        newSTSCache(),
	}
	if c.profile.RequireConsumerID && c.consumerID == "" {
		return nil, fmt.Errorf("bipro: profile %s requires a consumer id", c.profile.Name)
	}

	certPath, keyPath, err := c.resolveKeyMaterial()
	if err != nil {
		c.Shutdown()
		return nil, err
	}

	transport := &http.Transport{Proxy: proxyFunc()}
	if certPath != "" {
		tlsConf, err := clientTLS(certPath, keyPath)
		if err != nil {
			c.Shutdown()
			return nil, err
		}
		transport.TLSClientConfig = tlsConf
		c.certAuth = true
	} else if c.creds.Username == "" {
		c.Shutdown()
		return nil, fmt.Errorf("bipro: no credentials for %s", cfg.VUName)
	} else if c.stsURL == "" {
		c.Shutdown()
		return nil, fmt.Errorf("bipro: sts url required for username/password auth")
	}
	c.hc = &http.Client{Transport: transport}
	return c, nil
}

// resolveKeyMaterial converts whichever keystore the credentials name into
// a PEM pair. Precedence: PFX, then JKS, then a raw PEM pair.
func (c *Client) resolveKeyMaterial() (certPath, keyPath string, err error) {
	switch {
	case c.creds.PFXPath != "":
		return c.convertPFX(c.creds.PFXPath, c.creds.PFXPassword)
	case c.creds.JKSPath != "":
		return c.convertJKS(c.creds.JKSPath, c.creds.JKSPassword, c.creds.JKSAlias, c.creds.JKSKeyPassword)
	case c.creds.CertPEMPath != "" && c.creds.KeyPEMPath != "":
		return c.creds.CertPEMPath, c.creds.KeyPEMPath, nil
	}
	return "", "", nil
}

// proxyFunc ignores system proxies unless BIPRO_USE_SYSTEM_PROXY opts in.
// Corporate proxies have been seen mangling MTOM bodies.
func proxyFunc() func(*http.Request) (*url.URL, error) {
	switch strings.ToLower(os.Getenv("BIPRO_USE_SYSTEM_PROXY")) {
	case "1", "true", "yes":
		return http.ProxyFromEnvironment
	}
	return nil
}

// soapCall posts one envelope and returns the (MTOM-spliced) response body.
func (c *Client) soapCall(ctx context.Context, url, envelope string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(envelope)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset=utf-8`)
	req.Header.Set("SOAPAction", `""`)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := ParseSOAPResponse(resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		if fault := elementText(raw, "faultstring"); fault != "" {
			return nil, fmt.Errorf("soap fault from %s: %s", url, fault)
		}
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if fault := elementText(raw, "faultstring"); fault != "" {
		return nil, fmt.Errorf("soap fault from %s: %s", url, fault)
	}
	return raw, nil
}

// transferCall runs one 430 operation, refreshing the STS token once when
// the VU rejects a stale one.
func (c *Client) transferCall(ctx context.Context, build func(token string) string, timeout time.Duration) ([]byte, error) {
	token, err := c.securityToken(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.soapCall(ctx, c.endpoint, build(token), timeout)
	if err != nil && !c.certAuth && strings.Contains(err.Error(), "fault") {
		c.sts.clear()
		token, rerr := c.securityToken(ctx)
		if rerr != nil {
			return nil, err
		}
		return c.soapCall(ctx, c.endpoint, build(token), timeout)
	}
	return raw, err
}

// TestConnection verifies auth and endpoint reachability by listing
// without confirming.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.ListShipments(ctx, false)
	return err
}

// ListShipments returns the pending shipments. With confirm set, profiles
// that support it ask the VU to mark the list as delivered in one round
// trip.
func (c *Client) ListShipments(ctx context.Context, confirm bool) ([]ShipmentInfo, error) {
	raw, err := c.transferCall(ctx, func(token string) string {
		return listShipmentsEnvelope(c.profile, token, c.consumerID, confirm)
	}, listTimeout)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return parseShipmentList(raw), nil
}

// GetShipment fetches one shipment's documents.
func (c *Client) GetShipment(ctx context.Context, id string) (*ShipmentContent, error) {
	raw, err := c.transferCall(ctx, func(token string) string {
		return getShipmentEnvelope(c.profile, token, c.consumerID, id)
	}, getTimeout)
	if err != nil {
		return nil, fmt.Errorf("get shipment %s: %w", id, err)
	}
	return parseShipmentContent(id, raw), nil
}

// AcknowledgeShipment confirms receipt so the VU stops re-listing the
// shipment.
func (c *Client) AcknowledgeShipment(ctx context.Context, id string) error {
	_, err := c.transferCall(ctx, func(token string) string {
		return ackShipmentEnvelope(c.profile, token, c.consumerID, id)
	}, ackTimeout)
	if err != nil {
		return fmt.Errorf("acknowledge shipment %s: %w", id, err)
	}
	return nil
}

// VUName reports which insurer this client talks to.
func (c *Client) VUName() string { return c.vuName }

// ProfileName reports the dispatch profile in use.
func (c *Client) ProfileName() string { return c.profile.Name }
