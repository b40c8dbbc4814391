// Package middleware holds the gin middleware for the HTTP API.
package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Actief-IT-Services/aits-print-server/internal/config"
)

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

type TokenResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Auth guards the API with configured API keys and short-lived JWTs
// exchanged for them. When no keys are configured the API is open,
// which is the expected mode on a trusted LAN.
type Auth struct {
	cfg    config.AuthConfig
	secret []byte
}

func NewAuth(cfg config.AuthConfig) (*Auth, error) {
	// The signing secret is per-process: tokens do not survive a
	// restart, clients just exchange their key again.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	return &Auth{cfg: cfg, secret: secret}, nil
}

// Enabled reports whether any API key is configured.
func (a *Auth) Enabled() bool {
	return len(a.cfg.APIKeys) > 0
}

// checkKey compares the presented key against every configured key.
// Entries with a bcrypt prefix are treated as hashes; anything else is
// compared in constant time.
func (a *Auth) checkKey(presented string) bool {
	for _, key := range a.cfg.APIKeys {
		if strings.HasPrefix(key, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(key), []byte(presented)) == nil {
				return true
			}
			continue
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return true
		}
	}
	return false
}

func (a *Auth) generateToken() (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.cfg.TokenTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "print-server",
		},
		Authenticated: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	return signed, expires, err
}

func (a *Auth) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// credential extracts whatever the client sent: the X-API-Key header or
// a bearer value, which may be either a raw key or a JWT.
func credential(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// TokenHandler exchanges a valid API key for a JWT.
func (a *Auth) TokenHandler(c *gin.Context) {
	if !a.Enabled() {
		c.JSON(http.StatusBadRequest, TokenResponse{Success: false, Error: "no api keys configured"})
		return
	}

	presented := credential(c)
	if presented == "" || !a.checkKey(presented) {
		c.JSON(http.StatusUnauthorized, TokenResponse{Success: false, Error: "invalid api key"})
		return
	}

	token, expires, err := a.generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, TokenResponse{Success: false, Error: "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Success: true, Token: token, ExpiresAt: expires})
}

// RequireAuth accepts a configured API key or a token previously issued
// by TokenHandler. With no keys configured it passes everything.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		presented := credential(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}

		if a.checkKey(presented) {
			c.Next()
			return
		}

		claims, err := a.validateToken(presented)
		if err != nil || !claims.Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired credentials"})
			return
		}
		c.Next()
	}
}
