package middleware

import (
	"context"
	"crypto"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Context keys set by IssuerTokenMiddleware
const (
	ContextKeyToken     = "token"
	ContextKeyIssuerDID = "issuer_did"
)

var (
	ErrMissingAuthorization = errors.New("authorization header required")
	ErrInvalidAuthorization = errors.New("invalid authorization header format")
	ErrEmptyToken           = errors.New("token required")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthorization
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrInvalidAuthorization
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// IssuerKeyResolver finds the key an issuer signs its tokens with
type IssuerKeyResolver interface {
	IssuerKey(ctx context.Context, issuerDID, keyID string) (crypto.PublicKey, error)
}

// issuerSigningMethods are the asymmetric algorithms issuer tokens may use
var issuerSigningMethods = []string{"ES256", "ES384", "ES512", "EdDSA", "RS256", "PS256"}

var errNoIssuer = errors.New("token has no issuer")

// IssuerTokenMiddleware requires a bearer JWT on issuer push calls. The token
// must name its issuer, be signed by a key of the issuer's DID document and
// must not be expired.
func IssuerTokenMiddleware(keys IssuerKeyResolver, clock clockwork.Clock, logger *zap.Logger) gin.HandlerFunc {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(issuerSigningMethods),
		jwt.WithTimeFunc(clock.Now),
	)
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims := jwt.MapClaims{}
		_, err = parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			issuer, _ := t.Claims.GetIssuer()
			if issuer == "" {
				return nil, errNoIssuer
			}
			kid, _ := t.Header["kid"].(string)
			return keys.IssuerKey(c.Request.Context(), issuer, kid)
		})
		issuer, _ := claims.GetIssuer()
		switch {
		case errors.Is(err, errNoIssuer):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		case errors.Is(err, jwt.ErrTokenExpired):
			logger.Info("Expired issuer token", zap.String("issuer", issuer))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		case err != nil:
			logger.Info("Rejected issuer token", zap.String("issuer", issuer), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(ContextKeyToken, tokenString)
		c.Set(ContextKeyIssuerDID, issuer)
		c.Next()
	}
}

// IssuerDID returns the issuer named by the bearer token of the current request
func IssuerDID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyIssuerDID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Logger returns a gin middleware for logging
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request", fields...)
		case path == "/health" || path == "/metrics":
			logger.Debug("Request", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}
