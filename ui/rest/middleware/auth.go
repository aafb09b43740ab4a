package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wafleet/wafleet/pkg/utils"
)

const (
	// LocalsAdminUser holds the authenticated admin username.
	LocalsAdminUser = "admin_user"
	// LocalsGuestPhone / LocalsGuestBotID hold the guest token identity.
	LocalsGuestPhone = "guest_phone"
	LocalsGuestBotID = "guest_bot_id"
)

// AdminClaims is the admin dashboard token payload.
type AdminClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(utils.ResponseData{
		Status:  401,
		Code:    "AUTHENTICATION_ERROR",
		Message: message,
	})
}

// AdminAuth guards the admin surface with the HS256 dashboard token.
func AdminAuth(jwtSecret string) fiber.Handler {
	secret := []byte(jwtSecret)
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return unauthorized(c, "missing bearer token")
		}

		token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}
		claims, ok := token.Claims.(*AdminClaims)
		if !ok || !token.Valid || claims.Role != "admin" {
			return unauthorized(c, "admin access required")
		}

		c.Locals(LocalsAdminUser, claims.Username)
		return c.Next()
	}
}

// GuestTokenValidator is the slice of the guest usecase the middleware needs.
type GuestTokenValidator interface {
	ValidateToken(token string) (phone, botID string, err error)
}

// GuestAuth guards the guest self-service surface. The validated phone and
// bot ID land in locals; handlers must scope every operation to them.
func GuestAuth(guests GuestTokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return unauthorized(c, "missing bearer token")
		}

		phone, botID, err := guests.ValidateToken(tokenString)
		if err != nil {
			return unauthorized(c, err.Error())
		}

		c.Locals(LocalsGuestPhone, phone)
		c.Locals(LocalsGuestBotID, botID)
		return c.Next()
	}
}
