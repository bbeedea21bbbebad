package authoritystub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const bearerPrefix = "Bearer "

var errMissingBearer = errors.New("missing bearer token")

type sessionClaims struct {
	Organizer bool `json:"organizer"`
	jwt.RegisteredClaims
}

func (server *Server) issueToken(wallet string, organizer bool) (string, error) {
	issuedAt := server.now().UTC()
	claims := sessionClaims{
		Organizer: organizer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   wallet,
			Issuer:    server.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(server.cfg.TokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(server.cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// bearerClaims validates the request's bearer token, if any.
func (server *Server) bearerClaims(ctx *gin.Context) (*sessionClaims, error) {
	header := ctx.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, errMissingBearer
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims,
		func(*jwt.Token) (any, error) { return []byte(server.cfg.SigningKey), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(server.cfg.Issuer),
		jwt.WithTimeFunc(server.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func newObjectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
