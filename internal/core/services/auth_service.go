package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"codecollab/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService mints and validates room join tokens. A join token admits one
// identity into one room until it expires; the relay validates it on upgrade.
type AuthService interface {
	GenerateJoinToken(roomID domain.RoomID, userID domain.UserID, name string) (string, error)
	ValidateJoinToken(tokenString string) (*JoinClaims, error)
}

type JoinClaims struct {
	RoomID domain.RoomID `json:"room_id"`
	UserID domain.UserID `json:"user_id"`
	Name   string        `json:"name"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret    []byte
	joinTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, joinTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:    []byte(jwtSecret),
		joinTokenTTL: joinTokenTTL,
	}
}

func (s *authService) GenerateJoinToken(roomID domain.RoomID, userID domain.UserID, name string) (string, error) {
	claims := &JoinClaims{
		RoomID: roomID,
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.joinTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateJoinToken(tokenString string) (*JoinClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*JoinClaims); ok && token.Valid {
		if claims.RoomID == "" {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}
