package services

import (
	"errors"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const sessionTokenAudience = "liveclass-signal"

type AuthService interface {
	ports.TokenIssuer
	GenerateToken(userID domain.UserID, username string, role domain.UserRole) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateSessionToken(tokenString string) (domain.SessionGrant, error)
}

// Claims identify the caller of the control endpoints.
type Claims struct {
	UserID   domain.UserID   `json:"user_id"`
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// SessionClaims bind a signaling connection to one participant record.
type SessionClaims struct {
	StreamID      domain.StreamID        `json:"stream_id"`
	ParticipantID domain.ParticipantID   `json:"participant_id"`
	UserID        domain.UserID          `json:"user_id"`
	Role          domain.ParticipantRole `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret       []byte
	accessTokenTTL  time.Duration
	sessionTokenTTL time.Duration
	now             func() time.Time
}

func NewAuthService(jwtSecret string, accessTokenTTL, sessionTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		accessTokenTTL:  accessTokenTTL,
		sessionTokenTTL: sessionTokenTTL,
		now:             time.Now,
	}
}

func (s *authService) GenerateToken(userID domain.UserID, username string, role domain.UserRole) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	for _, aud := range claims.Audience {
		if aud == sessionTokenAudience {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// IssueSessionToken signs a grant for the participant's signaling channel.
func (s *authService) IssueSessionToken(grant domain.SessionGrant) (string, error) {
	now := s.now()
	claims := &SessionClaims{
		StreamID:      grant.StreamID,
		ParticipantID: grant.ParticipantID,
		UserID:        grant.UserID,
		Role:          grant.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(grant.ParticipantID),
			Audience:  jwt.ClaimStrings{sessionTokenAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateSessionToken(tokenString string) (domain.SessionGrant, error) {
	claims := &SessionClaims{}
	if err := s.parse(tokenString, claims, jwt.WithAudience(sessionTokenAudience)); err != nil {
		return domain.SessionGrant{}, err
	}
	if claims.StreamID == "" || claims.ParticipantID == "" || claims.UserID == "" {
		return domain.SessionGrant{}, ErrInvalidToken
	}
	return domain.SessionGrant{
		StreamID:      claims.StreamID,
		ParticipantID: claims.ParticipantID,
		UserID:        claims.UserID,
		Role:          claims.Role,
	}, nil
}

func (s *authService) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithTimeFunc(s.now))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}
