package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultClaimsCacheTTL  = 5 * time.Minute
	userDetailsPath        = "/api/0.6/user/details.json"
	maxUserDetailsBodySize = 1 << 20
)

var (
	errMissingAccessToken   = errors.New("access token must not be empty")
	errMissingAPIBaseURL    = errors.New("api base url configuration required")
	errUnauthorizedToken    = errors.New("access token rejected by openstreetmap")
	errMalformedUserDetails = errors.New("user details response malformed")
	// ErrInvalidVerifierConfig reports an unusable OSMVerifier configuration.
	ErrInvalidVerifierConfig = errors.New("auth: invalid osm verifier config")
)

// OSMVerifierConfig bundles configuration required to instantiate an OSMVerifier.
type OSMVerifierConfig struct {
	APIBaseURL string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// OSMClaims exposes verified account data required by downstream services.
type OSMClaims struct {
	Subject     string
	DisplayName string
}

// OSMVerifier resolves OAuth access tokens against the OpenStreetMap user
// details endpoint. Verified claims are cached briefly so repeated requests
// with the same token do not hammer the API.
type OSMVerifier struct {
	config     OSMVerifierConfig
	logger     *zap.Logger
	httpClient *http.Client
	clock      func() time.Time
	cache      *claimsCache
}

// NewOSMVerifier constructs a verifier with validated configuration.
func NewOSMVerifier(cfg OSMVerifierConfig) (*OSMVerifier, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAPIBaseURL)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultClaimsCacheTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &OSMVerifier{
		config: OSMVerifierConfig{
			APIBaseURL: baseURL,
			HTTPClient: httpClient,
			CacheTTL:   cacheTTL,
			Logger:     logger,
			Clock:      clock,
		},
		logger:     logger,
		httpClient: httpClient,
		clock:      clock,
		cache:      &claimsCache{ttl: cacheTTL},
	}, nil
}

// Verify resolves the provided OAuth access token and returns account claims.
func (v *OSMVerifier) Verify(ctx context.Context, accessToken string) (OSMClaims, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return OSMClaims{}, errMissingAccessToken
	}

	cacheKey := hashToken(token)
	now := v.clock()
	if claims, found := v.cache.get(cacheKey, now); found {
		return claims, nil
	}

	claims, err := v.fetchUserDetails(ctx, token)
	if err != nil {
		return OSMClaims{}, err
	}

	v.cache.store(cacheKey, claims, now)
	return claims, nil
}

func (v *OSMVerifier) fetchUserDetails(ctx context.Context, token string) (OSMClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.APIBaseURL+userDetailsPath, nil)
	if err != nil {
		return OSMClaims{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	response, err := v.httpClient.Do(req)
	if err != nil {
		return OSMClaims{}, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return OSMClaims{}, errUnauthorizedToken
	default:
		return OSMClaims{}, fmt.Errorf("user details request returned status %d", response.StatusCode)
	}

	var document userDetailsDocument
	decoder := json.NewDecoder(http.MaxBytesReader(nil, response.Body, maxUserDetailsBodySize))
	if err := decoder.Decode(&document); err != nil {
		return OSMClaims{}, fmt.Errorf("%w: %v", errMalformedUserDetails, err)
	}

	if document.User.ID == 0 || document.User.DisplayName == "" {
		return OSMClaims{}, errMalformedUserDetails
	}

	return OSMClaims{
		Subject:     strconv.FormatInt(document.User.ID, 10),
		DisplayName: document.User.DisplayName,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type userDetailsDocument struct {
	User struct {
		ID          int64  `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"user"`
}

type claimsCacheEntry struct {
	claims    OSMClaims
	expiresAt time.Time
}

type claimsCache struct {
	mu      sync.RWMutex
	entries map[string]claimsCacheEntry
	ttl     time.Duration
}

func (c *claimsCache) get(key string, now time.Time) (OSMClaims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, found := c.entries[key]
	if !found || now.After(entry.expiresAt) {
		return OSMClaims{}, false
	}
	return entry.claims, true
}

func (c *claimsCache) store(key string, claims OSMClaims, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]claimsCacheEntry)
	}
	c.entries[key] = claimsCacheEntry{claims: claims, expiresAt: now.Add(c.ttl)}
}
