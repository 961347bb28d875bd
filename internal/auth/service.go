package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer    = "voyagedesk"
	defaultAccessTTL = 15 * time.Minute
	minSecretLength  = 32
)

// Service authenticates staff and turns bearer tokens into Actors. Tokens only
// carry identity; status and grants are re-read on every request so a
// suspension or grant change applies immediately.
type Service struct {
	store     Store
	now       func() time.Time
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

// Claims is the JWT payload issued by Service.
type Claims struct {
	Role     Role   `json:"role"`
	AgencyID string `json:"agency_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing key.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		secret = strings.TrimSpace(secret)
		if len(secret) < minSecretLength {
			return fmt.Errorf("auth: token secret must be at least %d bytes", minSecretLength)
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service. A token secret is mandatory.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:     store,
		now:       time.Now,
		issuer:    defaultIssuer,
		accessTTL: defaultAccessTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	return svc, nil
}

// Token is an issued bearer token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login checks credentials and issues a token. Unknown emails, bad passwords
// and inactive accounts are all ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (Token, Actor, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Token{}, Actor{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return Token{}, Actor{}, ErrUnauthorized
		}
		return Token{}, Actor{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Token{}, Actor{}, ErrUnauthorized
	}
	if user.Status != StatusActive {
		return Token{}, Actor{}, ErrUnauthorized
	}
	actor, err := s.actor(ctx, user)
	if err != nil {
		return Token{}, Actor{}, err
	}
	tok, err := s.IssueToken(user)
	if err != nil {
		return Token{}, Actor{}, err
	}
	return tok, actor, nil
}

// IssueToken signs an access token for user.
func (s *Service) IssueToken(user User) (Token, error) {
	if strings.TrimSpace(user.ID) == "" {
		return Token{}, errors.New("auth: user id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role:     user.Role,
		AgencyID: user.AgencyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp}, nil
}

// AuthenticateToken verifies token and resolves the current Actor behind it.
// A token whose user vanished or changed role or agency is ErrInvalidToken;
// store failures are returned as ErrUpstreamUnavailable.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Actor, error) {
	claims, err := s.parse(token)
	if err != nil {
		return Actor{}, err
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Actor{}, ErrInvalidToken
		}
		return Actor{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if user.Role != claims.Role || user.AgencyID != claims.AgencyID {
		return Actor{}, ErrInvalidToken
	}
	actor, err := s.actor(ctx, user)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return actor, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) actor(ctx context.Context, user User) (Actor, error) {
	var grants []PermissionGrant
	if user.Role == RoleAgent {
		var err error
		grants, err = s.store.Permissions(ctx, user.ID)
		if err != nil {
			return Actor{}, err
		}
	}
	return user.Actor(grants), nil
}
