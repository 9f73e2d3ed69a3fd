// Package auth implements the machine token that protects the mutating
// parts of the admin API. The token is generated once, its argon2id hash is
// handed to the host via the environment and the plaintext never touches disk.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/KilianBerger/OpenLabHost/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const TokenPrefix = "labhost_"

// argon2id parameters, chosen for an interactive check on embedded hosts.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

var ErrInvalidToken = errors.New("invalid machine token")

// GenerateToken creates a new machine token of the form
// labhost_<uuid>_<secret>. Returns the plaintext token and its hash.
func GenerateToken() (token, hash string, err error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	token = TokenPrefix + uuid.New().String() + "_" + base64.RawURLEncoding.EncodeToString(secret)
	hash, err = HashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

// HashToken derives an argon2id hash in the standard encoded form.
func HashToken(token string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyToken checks a plaintext token against an encoded argon2id hash.
func VerifyToken(token, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return ErrInvalidToken
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ErrInvalidToken
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return ErrInvalidToken
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrInvalidToken
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrInvalidToken
	}

	got := argon2.IDKey([]byte(token), salt, time, memory, threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Middleware returns a gin handler that requires a valid bearer token.
// When no hash is configured the protected endpoints are disabled entirely.
func Middleware(tokenHash string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("auth_disabled", "no machine token configured", nil))
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !strings.HasPrefix(token, TokenPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("missing_token", "missing bearer token", nil))
			return
		}

		if err := VerifyToken(token, tokenHash); err != nil {
			logger.Warn("Rejected request with invalid machine token",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("invalid_token", "invalid machine token", nil))
			return
		}
		c.Next()
	}
}
