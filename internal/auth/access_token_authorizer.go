package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ankitmohanty2/Kagaz/internal/db"
	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/models"
)

var ErrInvalidToken = errors.New("invalid access token")

const defaultRefreshInterval = time.Minute

// AccessTokenAuthorizer resolves bearer tokens to principals from a cached
// copy of the token table. An unknown token forces a reload at most once per
// refresh interval.
type AccessTokenAuthorizer struct {
	repo            db.TokenRepo
	refreshInterval time.Duration
	log             *logger.Logger
	now             func() time.Time

	mu       sync.RWMutex
	tokens   []models.AccessToken
	loadedAt time.Time
}

func NewAccessTokenAuthorizer(log *logger.Logger, repo db.TokenRepo, refreshInterval time.Duration) *AccessTokenAuthorizer {
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	return &AccessTokenAuthorizer{
		repo:            repo,
		refreshInterval: refreshInterval,
		log:             log.With("component", "AccessTokenAuthorizer"),
		now:             time.Now,
	}
}

func (a *AccessTokenAuthorizer) CheckToken(ctx context.Context, accessTokenValue string) (*models.Principal, error) {
	if accessTokenValue == "" {
		return nil, ErrInvalidToken
	}

	if p := a.lookup(accessTokenValue); p != nil {
		return p, nil
	}

	if !a.stale() {
		return nil, ErrInvalidToken
	}
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	if p := a.lookup(accessTokenValue); p != nil {
		return p, nil
	}
	return nil, ErrInvalidToken
}

func (a *AccessTokenAuthorizer) lookup(value string) *models.Principal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	now := a.now()
	for _, token := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token.Token), []byte(value)) != 1 {
			continue
		}
		if !token.Expiration.IsZero() && !token.Expiration.After(now) {
			return nil
		}
		return &models.Principal{UserID: token.UserID, PlanTier: token.PlanTier}
	}
	return nil
}

func (a *AccessTokenAuthorizer) stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loadedAt.IsZero() || a.now().Sub(a.loadedAt) >= a.refreshInterval
}

func (a *AccessTokenAuthorizer) reload(ctx context.Context) error {
	tokens, err := a.repo.GetAccessTokens(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch access tokens: %w", err)
	}
	a.mu.Lock()
	a.tokens = tokens
	a.loadedAt = a.now()
	a.mu.Unlock()
	a.log.Debug("access tokens reloaded", "count", len(tokens))
	return nil
}
