package bipro

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// tokenSkew treats a token as expired this long before its wsu:Expires.
	tokenSkew = 60 * time.Second
	// tokenDefaultLifetime applies when the STS response has no expiry.
	tokenDefaultLifetime = 10 * time.Minute
)

// stsCache holds the current SecurityContextToken.
type stsCache struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func newSTSCache() *stsCache {
	return &stsCache{now: time.Now}
}

func (s *stsCache) get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.now().After(s.expires.Add(-tokenSkew)) {
		return "", false
	}
	return s.token, true
}

func (s *stsCache) put(token string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	if expires.IsZero() {
		expires = s.now().Add(tokenDefaultLifetime)
	}
	s.expires = expires
}

func (s *stsCache) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

// securityToken returns a valid SecurityContextToken, requesting a fresh
// one from the STS when the cache is stale. Certificate-auth clients carry
// no token at all.
func (c *Client) securityToken(ctx context.Context) (string, error) {
	if c.certAuth {
		return "", nil
	}
	if tok, ok := c.sts.get(); ok {
		return tok, nil
	}

	envelope := stsRequestEnvelope(c.profile, c.stsURL, c.creds.Username, c.creds.Password, c.consumerID)
	raw, err := c.soapCall(ctx, c.stsURL, envelope, stsTimeout)
	if err != nil {
		return "", fmt.Errorf("sts request: %w", err)
	}

	token := elementText(raw, "Identifier")
	if token == "" {
		return "", fmt.Errorf("sts response carries no token identifier")
	}
	c.sts.put(token, parseExpires(elementText(raw, "Expires")))
	return token, nil
}

// parseExpires reads a wsu:Expires timestamp. A zero time means "use the
// default lifetime".
func parseExpires(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
