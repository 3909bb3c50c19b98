package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/audit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// LocalKeyID is the key to retrieve the caller id (a prefix of the API key
// hash) from context
const LocalKeyID = "key_id"

// Auth creates an authentication middleware using a static API Key.
// Browsers cannot set headers on a websocket handshake, so the key is
// also accepted in the api_key query parameter.
func Auth(apiKey string) fiber.Handler {
	expected := sha256.Sum256([]byte(apiKey))

	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			token = strings.TrimSpace(c.Query("api_key"))
		}
		if token == "" || apiKey == "" {
			return domain.ErrUnauthorized
		}

		// compare hashes so the comparison time does not depend on the key length
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
			return domain.ErrUnauthorized
		}

		keyID := hashAPIKey(token)[:16]
		c.Locals(LocalKeyID, keyID)
		c.SetUserContext(audit.WithActor(c.UserContext(), keyID))
		return c.Next()
	}
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// hashAPIKey generates SHA-256 hash of API Key
func hashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

// GetKeyID retrieves the caller id from Fiber context
func GetKeyID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(LocalKeyID).(string)
	if !ok || id == "" {
		return "", domain.ErrUnauthorized
	}
	return id, nil
}
