package services

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType tells access tokens and deck tokens apart
type TokenType string

const (
	TokenTypeAccess TokenType = "access"
	TokenTypeDeck   TokenType = "deck"
)

// Claims are the JWT claims of both token kinds. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
}

// UserID returns the numeric subject
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// AuthService signs and verifies access tokens and deck tokens
type AuthService struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	deckTTL   time.Duration
	now       func() time.Time
}

// NewAuthService creates an AuthService. deckTTL bounds how long a batch of
// cards can be decided on.
func NewAuthService(secret, issuer string, accessTTL, deckTTL time.Duration) *AuthService {
	return &AuthService{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		deckTTL:   deckTTL,
		now:       time.Now,
	}
}

// DeckTTL is the lifetime of issued deck tokens
func (s *AuthService) DeckTTL() time.Duration { return s.deckTTL }

// IssueAccessToken signs a bearer token for userID
func (s *AuthService) IssueAccessToken(userID int64) (string, time.Time, error) {
	exp := s.now().Add(s.accessTTL)
	token, err := s.sign(userID, uuid.NewString(), TokenTypeAccess, exp)
	return token, exp, err
}

// ParseAccessToken verifies a bearer token and returns its user id
func (s *AuthService) ParseAccessToken(token string) (int64, error) {
	claims, err := s.parse(token, TokenTypeAccess)
	if err != nil {
		return 0, ErrInvalidAccessToken
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, ErrInvalidAccessToken
	}
	return id, nil
}

// IssueDeckToken signs a deck token naming the deck session sessionID
func (s *AuthService) IssueDeckToken(userID int64, sessionID string) (string, time.Time, error) {
	exp := s.now().Add(s.deckTTL)
	token, err := s.sign(userID, sessionID, TokenTypeDeck, exp)
	return token, exp, err
}

// ParseDeckToken verifies a deck token. It returns ErrDeckTokenExpired once the
// TTL has passed and ErrInvalidDeckToken for anything it did not sign.
func (s *AuthService) ParseDeckToken(token string) (*Claims, error) {
	claims, err := s.parse(token, TokenTypeDeck)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrDeckTokenExpired
	}
	if err != nil {
		return nil, ErrInvalidDeckToken
	}
	if _, err := claims.UserID(); err != nil || claims.ID == "" {
		return nil, ErrInvalidDeckToken
	}
	return claims, nil
}

func (s *AuthService) sign(userID int64, id string, typ TokenType, exp time.Time) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *AuthService) parse(token string, typ TokenType) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAccessToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != typ {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
