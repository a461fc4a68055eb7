package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	// jwksFetchTimeout bounds the verification-key fetch.
	jwksFetchTimeout = 5 * time.Second

	// jwksCacheTTL is how long a fetched key set is reused.
	jwksCacheTTL = 1 * time.Hour
)

// KeyFetcher retrieves RSA verification keys from a JWKS endpoint and caches
// them. It is safe for concurrent use. Fetch failures surface as
// ErrKeysUnavailable so verification fails closed.
type KeyFetcher struct {
	url    string
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeyFetcher creates a fetcher for the given JWKS URL.
func NewKeyFetcher(url string) *KeyFetcher {
	return &KeyFetcher{
		url:    url,
		client: &http.Client{Timeout: jwksFetchTimeout},
	}
}

// Key returns the verification key for the given key ID, fetching the key
// set if the cache is stale. An empty kid matches a single-key document.
func (f *KeyFetcher) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := f.cached(kid); key != nil {
		return key, nil
	}

	if err := f.refresh(ctx); err != nil {
		return nil, err
	}

	if key := f.cached(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: no key for kid %q", ErrKeysUnavailable, kid)
}

// cached returns a fresh cached key, or nil.
func (f *KeyFetcher) cached(kid string) *rsa.PublicKey {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if time.Since(f.fetchedAt) > jwksCacheTTL {
		return nil
	}
	if kid == "" && len(f.keys) == 1 {
		for _, key := range f.keys {
			return key
		}
	}
	return f.keys[kid]
}

// jwk is the subset of a JSON Web Key needed for RSA verification.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// refresh fetches and decodes the key set.
func (f *KeyFetcher) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrKeysUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetching JWKS: %v", ErrKeysUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: JWKS request failed: %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: parsing JWKS: %v", ErrKeysUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: JWKS document contains no usable RSA keys", ErrKeysUnavailable)
	}

	f.mu.Lock()
	f.keys = keys
	f.fetchedAt = time.Now()
	f.mu.Unlock()

	return nil
}

// publicKey decodes the modulus and exponent into an rsa.PublicKey.
func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: e,
	}, nil
}
