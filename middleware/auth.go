// middleware/auth.go - Host owner token issuance and verification
package middleware

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const hostTokenTTL = 24 * time.Hour

func jwtSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "partyquiz-secret-change-in-production"
	}
	return []byte(secret)
}

// IssueHostToken mints the owner token returned once at session creation.
// The session row additionally stores a bcrypt hash of the full token, so a
// leaked signing secret alone cannot control an existing session.
func IssueHostToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"session_id": sessionID,
		"role":       "host",
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(hostTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("sign host token: %w", err)
	}
	return signed, nil
}

// ParseHostToken verifies the signature and expiry and returns the session
// id the token was issued for.
func ParseHostToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("invalid signing method")
		}
		return jwtSecret(), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	if role, _ := claims["role"].(string); role != "host" {
		return "", fmt.Errorf("not a host token")
	}
	sessionID, _ := claims["session_id"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("token missing session id")
	}
	return sessionID, nil
}

// HostAuthMiddleware guards REST endpoints that act on a session as its
// host. The verified session id lands in c.Locals("sessionId").
func HostAuthMiddleware(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Status(401).JSON(fiber.Map{"error": "Missing authorization header"})
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid authorization header format"})
	}

	sessionID, err := ParseHostToken(parts[1])
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("sessionId", sessionID)
	c.Locals("hostToken", parts[1])
	return c.Next()
}
