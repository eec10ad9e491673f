package alibaba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/storage"
	"github.com/billlvtech/icbu-broker/internal/types"
)

// DefaultTokenKeyPrefix namespaces token keys in the store.
const DefaultTokenKeyPrefix = "alibaba_token:"

// DefaultTokenTTL applies when the token response carries no expires_in.
const DefaultTokenTTL = 24 * time.Hour

// ErrTokenNotFound is returned when no token is stored for a seller.
var ErrTokenNotFound = errors.New("no token stored")

// Token is the token response as returned by /auth/token/create or
// /auth/token/refresh. It is stored verbatim.
type Token map[string]any

func (t Token) str(key string) string {
	return strings.TrimSpace(types.Stringify(t[key]))
}

func (t Token) num(key string) int64 {
	n, err := strconv.ParseInt(t.str(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SellerID returns the seller_id field.
func (t Token) SellerID() string { return t.str("seller_id") }

// Account returns the account (login id) field.
func (t Token) Account() string { return t.str("account") }

// AccessToken returns the access_token field.
func (t Token) AccessToken() string { return t.str("access_token") }

// RefreshTokenValue returns the refresh_token field.
func (t Token) RefreshTokenValue() string { return t.str("refresh_token") }

// ExpiresIn returns expires_in in seconds, 0 when absent.
func (t Token) ExpiresIn() int64 { return t.num("expires_in") }

// RefreshExpiresIn returns refresh_expires_in in seconds, 0 when absent.
func (t Token) RefreshExpiresIn() int64 { return t.num("refresh_expires_in") }

// Refresher exchanges a refresh token for a new token response.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (Response, error)
}

// TokenService persists seller tokens and keeps them fresh.
type TokenService struct {
	store      storage.Store
	refresher  Refresher
	prefix     string
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewTokenService creates a token service. Empty prefix or zero TTL fall
// back to the defaults.
func NewTokenService(store storage.Store, refresher Refresher, prefix string, defaultTTL time.Duration, logger *zap.Logger) *TokenService {
	if prefix == "" {
		prefix = DefaultTokenKeyPrefix
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		store:      store,
		refresher:  refresher,
		prefix:     prefix,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (s *TokenService) key(id string) string {
	return s.prefix + id
}

// SaveToken stores data under its seller id, or its account when the seller
// id is missing. Data with neither is logged and skipped.
func (s *TokenService) SaveToken(ctx context.Context, data Token) error {
	sellerID := data.SellerID()
	account := data.Account()
	if sellerID == "" && account == "" {
		s.logger.Warn("token has no seller_id or account, not saved")
		return nil
	}

	id := sellerID
	if id == "" {
		id = account
	}

	ttl := s.defaultTTL
	if secs := data.ExpiresIn(); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.store.Set(ctx, s.key(id), raw, ttl); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Info("token saved",
		zap.String("key", s.key(id)),
		zap.String("seller_id", sellerID),
		zap.String("account", account),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// LoadBySellerID returns the stored token, or ErrTokenNotFound.
func (s *TokenService) LoadBySellerID(ctx context.Context, sellerID string) (Token, error) {
	return s.load(ctx, strings.TrimSpace(sellerID))
}

// LoadByAccount returns a token stored under an account id.
func (s *TokenService) LoadByAccount(ctx context.Context, account string) (Token, error) {
	return s.load(ctx, strings.TrimSpace(account))
}

func (s *TokenService) load(ctx context.Context, id string) (Token, error) {
	if id == "" {
		return nil, ErrTokenNotFound
	}
	raw, err := s.store.Get(ctx, s.key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	var data Token
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		s.logger.Error("stored token is not valid json", zap.String("id", id), zap.Error(err))
		return nil, ErrTokenNotFound
	}
	return data, nil
}

// RefreshIfPossible refreshes the seller's token when it has a refresh
// token that has not expired. It returns the saved new token, or nil when
// no refresh took place.
func (s *TokenService) RefreshIfPossible(ctx context.Context, sellerID string) (Token, error) {
	data, err := s.LoadBySellerID(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	refresh := data.RefreshTokenValue()
	if refresh == "" || data.RefreshExpiresIn() <= 0 {
		s.logger.Warn("token refresh not allowed",
			zap.String("seller_id", sellerID),
			zap.Int64("refresh_expires_in", data.RefreshExpiresIn()),
		)
		return nil, nil
	}

	resp, err := s.refresher.RefreshToken(ctx, refresh)
	if err != nil {
		s.logger.Error("token refresh failed", zap.String("seller_id", sellerID), zap.Error(err))
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	fresh := Token(resp)
	if err := s.SaveToken(ctx, fresh); err != nil {
		return nil, err
	}
	s.logger.Info("token refreshed", zap.String("seller_id", sellerID))
	return fresh, nil
}

// GetValidAccessToken returns the best access token available for the
// seller: a refreshed one when refreshing works, the stored one otherwise.
func (s *TokenService) GetValidAccessToken(ctx context.Context, sellerID string) (string, error) {
	data, err := s.LoadBySellerID(ctx, sellerID)
	if err != nil {
		return "", err
	}

	if fresh, err := s.RefreshIfPossible(ctx, sellerID); err == nil && fresh != nil {
		data = fresh
	}

	token := data.AccessToken()
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}
