package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/econsult/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidOwner = errors.New("token subject is not a valid owner id")
)

// Claims identify the referring account. The subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// JWTService validates bearer tokens issued to referring offices. Token issuance lives
// with the identity provider; Generate exists for tooling and tests.
type JWTService interface {
	Validate(token string) (model.Owner, error)
	Generate(owner model.Owner) (string, error)
}

type hmacService struct {
	cfg JWTConfig
	now func() time.Time
}

func NewJWTService(cfg JWTConfig) JWTService {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &hmacService{cfg: cfg, now: time.Now}
}

func (s *hmacService) Validate(tokenStr string) (model.Owner, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return model.Owner{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Owner{}, ErrInvalidOwner
	}
	return model.Owner{ID: id, Email: claims.Email}, nil
}

func (s *hmacService) Generate(owner model.Owner) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.ID.String(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
		Email: owner.Email,
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}
