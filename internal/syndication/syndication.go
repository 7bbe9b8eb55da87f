// Package syndication implements a two-secret JWT token service: a
// refresh/access token pair per client, access tokens short-lived
// (~60s), with a capability-bypass path for trusted internal callers.
//
// Grounded on the teacher's internal/auth/jwt.go: the same golang-jwt/v5
// Claims-embedding pattern and JWTConfig-style secret/issuer/duration
// struct, split here into two independently-keyed secrets (refresh,
// access) so that revoking a refresh token doesn't also invalidate
// every access token it has already minted.
package syndication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/hooks"
)

const accessTokenTTL = 60 * time.Second

// ErrRevoked is returned when a refresh token whose client has been
// revoked is presented.
var ErrRevoked = errors.New("syndication: refresh token has been revoked")

// Client is one registered syndication client: an external caller issued
// a long-lived refresh token in exchange for short-lived access tokens.
type Client struct {
	ObjectID     string `json:"objectId"`
	UserRef      string `json:"userRef"`
	ClientName   string `json:"clientName"`
	RefreshToken string `json:"refreshToken"`
}

type refreshClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

type accessClaims struct {
	ClientID string `json:"cid"`
	UserRef  string `json:"sub"`
	jwt.RegisteredClaims
}

// Service issues and verifies syndication tokens. Revocations are kept in
// Redis, shared across every server process, so a token revoked on one
// instance is rejected everywhere immediately; revokedLocal is the
// fallback used when no Redis client is configured (tests, single-process
// dev runs), matching the teacher's session-cache pattern of a Redis-
// backed set with the ttl/eviction it already provides for free.
type Service struct {
	refreshSecret []byte
	accessSecret  []byte
	issuer        string
	db            *db.Database
	h             *hooks.Engine
	redis         *redis.Client

	mu           sync.RWMutex
	revokedLocal map[string]struct{}
}

// New creates a Service keyed by two independent secrets, so that
// revoking refresh issuance cannot also invalidate already-minted
// access tokens. redisClient may be nil, in which case revocations are
// tracked in-process only.
func New(database *db.Database, h *hooks.Engine, refreshSecret, accessSecret, issuer string, redisClient *redis.Client) *Service {
	return &Service{
		refreshSecret: []byte(refreshSecret),
		accessSecret:  []byte(accessSecret),
		issuer:        issuer,
		db:            database,
		h:             h,
		redis:         redisClient,
		revokedLocal:  make(map[string]struct{}),
	}
}

const revokedKeyPrefix = "syndication:revoked:"

const clientClass = "SyndicationClient"

// Create registers a new syndication client and mints its refresh token.
func (s *Service) Create(objectID, userRef, clientName string) (*Client, error) {
	refreshToken, err := s.signRefresh(objectID)
	if err != nil {
		return nil, err
	}

	client := &Client{ObjectID: objectID, UserRef: userRef, ClientName: clientName, RefreshToken: refreshToken}
	data := map[string]interface{}{
		"userRef":      userRef,
		"clientName":   clientName,
		"refreshToken": refreshToken,
	}
	if err := s.db.SaveObject(&db.Object{ClassName: clientClass, ObjectID: objectID, Data: data}); err != nil {
		return nil, fmt.Errorf("syndication: saving client %s: %w", objectID, err)
	}
	return client, nil
}

func (s *Service) signRefresh(clientID string) (string, error) {
	claims := refreshClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
}

// Token exchanges a valid, unrevoked refresh token for a fresh ~60s
// access token. It fires syndicate-content-list with the client id and
// user ref; what listeners put in the context is not carried into the
// token or returned.
func (s *Service) Token(refreshToken string) (string, error) {
	clientID, err := s.verifyRefresh(refreshToken)
	if err != nil {
		return "", err
	}

	obj, err := s.db.GetObject(clientClass, clientID)
	if err != nil {
		return "", fmt.Errorf("syndication: unknown client %s: %w", clientID, err)
	}
	userRef, _ := obj.Data["userRef"].(string)

	ctx := s.h.Run("syndicate-content-list", clientID, userRef)
	allowed := ctx.Custom["types"]
	_ = allowed // read but not used: neither the token nor Verify carries it

	claims := accessClaims{
		ClientID: clientID,
		UserRef:  userRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

func (s *Service) verifyRefresh(tokenString string) (string, error) {
	if s.isRevoked(tokenString) {
		return "", ErrRevoked
	}

	claims := &refreshClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.refreshSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("syndication: invalid refresh token: %w", err)
	}
	return claims.ClientID, nil
}

// Verify validates an access token and returns the client id and user ref
// it was minted for. bypass, when true, skips verification entirely for
// trusted internal callers and returns zero values.
func (s *Service) Verify(accessToken string, bypass bool) (clientID, userRef string, err error) {
	if bypass {
		return "", "", nil
	}

	claims := &accessClaims{}
	_, err = jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (interface{}, error) {
		return s.accessSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("syndication: invalid access token: %w", err)
	}
	return claims.ClientID, claims.UserRef, nil
}

// Revoke invalidates a client's refresh token so future Token calls with
// it fail, without touching any access token it already issued.
func (s *Service) Revoke(refreshToken string) {
	if s.redis != nil {
		s.redis.Set(context.Background(), revokedKeyPrefix+refreshToken, "1", 0)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedLocal[refreshToken] = struct{}{}
}

func (s *Service) isRevoked(refreshToken string) bool {
	if s.redis != nil {
		n, err := s.redis.Exists(context.Background(), revokedKeyPrefix+refreshToken).Result()
		return err == nil && n > 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revokedLocal[refreshToken]
	return ok
}
