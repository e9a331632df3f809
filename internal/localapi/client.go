package localapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Domain selects which API surface a request goes to. The local domain is
// the client's loopback port from the lockfile; glz and pd are the regional
// game and player-data servers, authenticated with tokens minted by the
// local API.
type Domain int

const (
	// DomainLocal is the loopback API on the lockfile port.
	DomainLocal Domain = iota
	// DomainGLZ is the regional game server (match and party state).
	DomainGLZ
	// DomainPD is the regional player-data server (ranks, names, history).
	DomainPD
)

// clientVersionHeader is required by the regional servers; the value is
// read from the local API session at client construction.
const clientVersionHeader = "X-Riot-ClientVersion"

// platformHeader is a static, base64-encoded platform descriptor the
// regional servers expect on every request.
const platformHeader = "ew0KCSJwbGF0Zm9ybVR5cGUiOiAiUEMiLA0KCSJwbGF0Zm9ybU9TIjogIldpbmRvd3MiLA0KCSJwbGF0Zm9ybU9TVmVyc2lvbiI6ICIxMC4wLjE5MDQyLjEuMjU2LjY0Yml0IiwNCgkicGxhdGZvcm1DaGlwc2V0IjogIlVua25vd24iDQp9"

// entitlements is the token pair minted by the local entitlements endpoint,
// attached to every regional request.
type entitlements struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

// Client is the authenticated HTTP client for all three API domains. It is
// safe for concurrent use; the session loop and the record builder's
// fan-out share one instance.
type Client struct {
	http     *retryablehttp.Client
	localURL string
	glzURL   string
	pdURL    string
	password string
	version  string

	mu   sync.Mutex
	ents entitlements
	// entsAt is when the cached token pair was minted; pairs are re-minted
	// after entTTL to stay ahead of expiry.
	entsAt time.Time
}

// entTTL is how long a minted token pair is reused before refreshing.
const entTTL = 45 * time.Minute

// NewClient builds a client from a parsed lockfile and the shard/region the
// account plays on (for example "eu"/"eu" or "na"/"na"). Certificate
// verification is disabled for the loopback endpoint, which serves a
// self-signed certificate.
func NewClient(lf Lockfile, region, shard string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	rc.Logger = nil

	return &Client{
		http:     rc,
		localURL: fmt.Sprintf("%s://127.0.0.1:%d", lf.Protocol, lf.Port),
		glzURL:   fmt.Sprintf("https://glz-%s-1.%s.a.pvp.net", region, shard),
		pdURL:    fmt.Sprintf("https://pd.%s.a.pvp.net", shard),
		password: lf.Password,
	}
}

// Fetch performs method against path on the given domain and decodes the
// JSON response into out. A nil out discards the body. Non-2xx responses
// are returned as *StatusError so callers can branch on the code.
func (c *Client) Fetch(ctx context.Context, domain Domain, method, path string, body, out any) error {
	var base string
	switch domain {
	case DomainLocal:
		base = c.localURL
	case DomainGLZ:
		base = c.glzURL
	case DomainPD:
		base = c.pdURL
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if domain == DomainLocal {
		req.SetBasicAuth("riot", c.password)
	} else {
		ents, err := c.entitlementTokens(ctx)
		if err != nil {
			return fmt.Errorf("minting entitlement tokens: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+ents.AccessToken)
		req.Header.Set("X-Riot-Entitlements-JWT", ents.Token)
		req.Header.Set("X-Riot-ClientPlatform", platformHeader)
		if c.version != "" {
			req.Header.Set(clientVersionHeader, c.version)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Path: path}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// SetVersion records the client version attached to regional requests.
func (c *Client) SetVersion(v string) {
	c.version = v
}

// entitlementTokens returns the cached token pair, minting a fresh one from
// the local API when the cache is empty or stale.
func (c *Client) entitlementTokens(ctx context.Context) (entitlements, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ents.AccessToken != "" && time.Since(c.entsAt) < entTTL {
		return c.ents, nil
	}
	var ents entitlements
	if err := c.Fetch(ctx, DomainLocal, http.MethodGet, "/entitlements/v1/token", nil, &ents); err != nil {
		return entitlements{}, err
	}
	c.ents = ents
	c.entsAt = time.Now()
	return ents, nil
}

// StatusError is a non-2xx response from any domain.
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Path, e.Code)
}

// IsNotFound reports whether err is a 404 StatusError. Direct match probes
// use 404 as the ordinary "not in that phase" answer, not a failure.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// websocketURL returns the local push-socket URL for the lockfile port.
func websocketURL(localURL string) string {
	return "wss" + strings.TrimPrefix(localURL, "https")
}
