package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
)

const ContextSubject = "subject"

type AuthConfig struct {
	Secret string
	// Issuer, when set, must match the iss claim.
	Issuer string
}

type AuthMiddleware struct {
	config AuthConfig
	parser *jwt.Parser
}

func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &AuthMiddleware{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// Authenticate verifies the bearer token and sets its subject in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		var claims jwt.RegisteredClaims
		_, err = m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(m.config.Secret), nil
		})
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, handler.NewErrorResponse("Unauthorized", message))
}
