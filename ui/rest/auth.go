package rest

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/utils"
	"github.com/wafleet/wafleet/ui/rest/middleware"
)

const adminTokenTTL = 24 * time.Hour

type Auth struct {
	Username  string
	Password  string
	JWTSecret []byte
}

func InitRestAuth(app fiber.Router, username, password, jwtSecret string) Auth {
	rest := Auth{Username: username, Password: password, JWTSecret: []byte(jwtSecret)}
	app.Post("/auth/login", rest.Login)
	return rest
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (handler *Auth) Login(c *fiber.Ctx) error {
	var request loginRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	if handler.Password == "" {
		utils.PanicIfNeeded(pkgError.AuthError("admin login is disabled, no admin password configured"))
	}

	userOK := subtle.ConstantTimeCompare([]byte(request.Username), []byte(handler.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(request.Password), []byte(handler.Password)) == 1
	if !userOK || !passOK {
		utils.PanicIfNeeded(pkgError.AuthError("invalid username or password"))
	}

	now := time.Now()
	expiresAt := now.Add(adminTokenTTL)
	claims := &middleware.AdminClaims{
		Username: request.Username,
		Role:     "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(handler.JWTSecret)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Login success",
		Results: map[string]any{
			"token":      token,
			"expires_at": expiresAt,
		},
	})
}
