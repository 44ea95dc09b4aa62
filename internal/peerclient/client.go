// Package peerclient talks to a remote peer's mirror endpoints.
package peerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geogram-dev/geomirror/internal/auth"
	"github.com/geogram-dev/geomirror/internal/logging"
	"github.com/geogram-dev/geomirror/internal/manifest"
)

// Endpoint paths and headers shared with the mirror server.
const (
	HealthPath   = "/healthz"
	ManifestPath = "/api/mirror/manifest"
	FilePath     = "/api/mirror/file"

	HeaderModifiedAt = "X-Mirror-Modified-At"
	HeaderHash       = "X-Mirror-Hash"
	HeaderCallsign   = "X-Mirror-Callsign"
)

// DefaultTimeout bounds manifest fetches, probes, waiting for response headers
// and idle gaps in file bodies.
const DefaultTimeout = 20 * time.Second

// maxManifestBytes caps the manifest response body.
const maxManifestBytes = 64 << 20

// Options configures a Client.
type Options struct {
	// Callsign identifies the requester to the peer.
	Callsign string
	// Signer signs every request; nil sends unsigned requests.
	Signer auth.Signer
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues mirror requests against one peer, trying its addresses in order.
type Client struct {
	addresses  []string
	callsign   string
	signer     auth.Signer
	timeout    time.Duration
	httpClient *http.Client

	mu     sync.Mutex
	active int
}

// Health is the /healthz response.
type Health struct {
	Status   string `json:"status"`
	Callsign string `json:"callsign"`
}

// RemoteFile describes a downloaded file as reported by the peer's headers.
type RemoteFile struct {
	Size       int64
	ModifiedAt time.Time
	Hash       string
}

// New constructs a client for a peer reachable at addresses, in preference order.
func New(addresses []string, opts Options) (*Client, error) {
	var normalized []string
	for _, a := range addresses {
		u, err := NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, u)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: no addresses", ErrUnreachablePeer)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
				ResponseHeaderTimeout: timeout,
				TLSHandshakeTimeout:   timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &Client{
		addresses:  normalized,
		callsign:   opts.Callsign,
		signer:     opts.Signer,
		timeout:    timeout,
		httpClient: hc,
	}, nil
}

// NormalizeAddress turns "host:port" or a URL into a base URL without trailing slash.
func NormalizeAddress(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("peer address cannot be empty")
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid peer address %q: %w", raw, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid peer address %q: missing host", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid peer address %q: unsupported scheme %q", raw, parsed.Scheme)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// Ping probes /healthz.
func (c *Client) Ping(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, HealthPath, nil, nil, nil)
	if err != nil {
		return Health{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var h Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("%w: bad health response: %v", ErrPeerRejected, err)
	}
	return h, nil
}

// FetchManifest fetches the peer's manifest for appID.
func (c *Client) FetchManifest(ctx context.Context, appID string) (manifest.Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("app", appID)
	if c.callsign != "" {
		query.Set("callsign", c.callsign)
	}
	resp, err := c.do(ctx, http.MethodGet, ManifestPath, query, nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if len(data) > maxManifestBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedManifest, maxManifestBytes)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	return m, nil
}

// Download opens the remote file. The caller must close the body. A body that
// delivers no bytes for the client's timeout fails with ErrUnreachablePeer.
func (c *Client) Download(ctx context.Context, appID, path string) (io.ReadCloser, RemoteFile, error) {
	w := newWatchdog(ctx, c.timeout)
	resp, err := c.do(w.ctx, http.MethodGet, FilePath, c.fileQuery(appID, path), nil, nil)
	if err != nil {
		w.stop()
		return nil, RemoteFile{}, err
	}
	info := RemoteFile{
		Size: resp.ContentLength,
		Hash: resp.Header.Get(HeaderHash),
	}
	if ms, err := strconv.ParseInt(resp.Header.Get(HeaderModifiedAt), 10, 64); err == nil {
		info.ModifiedAt = time.UnixMilli(ms).UTC()
	}
	w.kick()
	return &watchedBody{rc: resp.Body, w: w, release: w.stop}, info, nil
}

// Upload sends a local file. open is called once per attempted address. A
// peer that stops reading the body for the client's timeout fails the upload
// with ErrUnreachablePeer.
func (c *Client) Upload(ctx context.Context, appID string, entry manifest.Entry, open func() (io.ReadCloser, error)) error {
	header := http.Header{}
	header.Set(HeaderModifiedAt, strconv.FormatInt(entry.ModifiedAt.UnixMilli(), 10))
	header.Set(HeaderHash, entry.Hash)
	header.Set("Content-Type", "application/octet-stream")

	w := newWatchdog(ctx, c.timeout)
	defer w.stop()
	body := func() (io.ReadCloser, int64, error) {
		rc, err := open()
		if err != nil {
			return nil, 0, err
		}
		return &watchedBody{rc: rc, w: w, release: w.pause}, entry.Size, nil
	}
	resp, err := c.do(w.ctx, http.MethodPut, FilePath, c.fileQuery(appID, entry.Path), header, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Delete removes a file on the peer.
func (c *Client) Delete(ctx context.Context, appID, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, FilePath, c.fileQuery(appID, path), nil, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) fileQuery(appID, path string) url.Values {
	query := url.Values{}
	query.Set("app", appID)
	query.Set("path", path)
	if c.callsign != "" {
		query.Set("callsign", c.callsign)
	}
	return query
}

// do sends the request to each address in turn, starting with the last one that
// answered. A response of any status stops the loop; only transport failures
// move on to the next address.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	header http.Header,
	body func() (io.ReadCloser, int64, error),
) (*http.Response, error) {
	c.mu.Lock()
	start := c.active
	c.mu.Unlock()

	var lastErr error
	for i := range c.addresses {
		idx := (start + i) % len(c.addresses)
		resp, err := c.attempt(ctx, c.addresses[idx], method, path, query, header, body)
		if err == nil {
			c.mu.Lock()
			c.active = idx
			c.mu.Unlock()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return nil, rejected(resp)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, c.transportError(ctx, err)
		}
		logging.Debug("peer address failed",
			logging.Operation(method+" "+path),
			slog.String("address", c.addresses[idx]),
			logging.Err(err),
		)
		lastErr = err
	}
	return nil, c.transportError(ctx, lastErr)
}

func (c *Client) attempt(
	ctx context.Context,
	base, method, path string,
	query url.Values,
	header http.Header,
	body func() (io.ReadCloser, int64, error),
) (*http.Response, error) {
	endpoint, err := buildURL(base, path, query)
	if err != nil {
		return nil, err
	}

	var (
		reqBody io.ReadCloser
		size    int64
	)
	if body != nil {
		reqBody, size, err = body()
		if err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		if reqBody != nil {
			_ = reqBody.Close()
		}
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.callsign != "" {
		req.Header.Set(HeaderCallsign, c.callsign)
	}
	if c.signer != nil {
		authz, err := c.signer.Authorization(method, endpoint.RequestURI())
		if err != nil {
			if reqBody != nil {
				_ = reqBody.Close()
			}
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", authz)
	}
	return c.httpClient.Do(req)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrUnreachablePeer) {
			return cause
		}
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrUnreachablePeer, ctxErr)
		}
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrUnreachablePeer, err)
}

func rejected(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	rerr := &RejectedError{Status: resp.StatusCode}
	var payload apiErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		rerr.Message = payload.Error
		if payload.Message != "" {
			rerr.Message = payload.Message
		}
	} else {
		rerr.Message = strings.TrimSpace(string(data))
	}
	return rerr
}

func buildURL(base, path string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u, nil
}
