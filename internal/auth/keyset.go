// ABOUTME: Rotating public key set for ID token signature verification
// ABOUTME: Fetches kid->certificate maps from the provider and caches until expiry

package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Key set errors
var (
	ErrUnknownKey = errors.New("unknown signing key")
)

// defaultKeyTTL is used when the provider sends no usable Cache-Control header.
const defaultKeyTTL = 5 * time.Minute

// KeySet resolves a key ID to an RSA public key. Implementations may
// fetch keys lazily; Key must be safe for concurrent use.
type KeySet interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RemoteKeySet implements KeySet against a provider certificate endpoint
// that serves a JSON object of kid -> PEM certificate (the Google
// oauth2/v1/certs format). Keys are cached until the endpoint's
// Cache-Control max-age elapses; an unknown kid forces a refresh so key
// rotation is picked up immediately.
type RemoteKeySet struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	keys   map[string]*rsa.PublicKey
	expiry time.Time
}

// NewRemoteKeySet creates a key set backed by the given certs URL.
// Pass nil logger for default.
func NewRemoteKeySet(url string, logger *slog.Logger) *RemoteKeySet {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteKeySet{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "keyset"),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Key returns the public key for kid, refreshing the cached set when it
// has expired or does not contain kid.
func (s *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[kid]; ok && time.Now().Before(s.expiry) {
		return key, nil
	}

	if err := s.refresh(ctx); err != nil {
		return nil, fmt.Errorf("refreshing key set: %w", err)
	}

	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

// refresh fetches the certificate endpoint and replaces the cached keys.
// Caller must hold s.mu.
func (s *RemoteKeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("certs endpoint returned %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("decoding certs response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		key, err := parseCertificateKey(certPEM)
		if err != nil {
			s.logger.Warn("skipping unparsable certificate", "kid", kid, "error", err)
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return errors.New("certs endpoint returned no usable keys")
	}

	s.keys = keys
	s.expiry = time.Now().Add(cacheTTL(resp.Header.Get("Cache-Control")))
	s.logger.Debug("key set refreshed", "keys", len(keys), "expiry", s.expiry)
	return nil
}

// parseCertificateKey extracts the RSA public key from a PEM certificate.
func parseCertificateKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate key is %T, not RSA", cert.PublicKey)
	}
	return key, nil
}

// cacheTTL extracts max-age from a Cache-Control header, falling back to
// defaultKeyTTL.
func cacheTTL(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultKeyTTL
}
