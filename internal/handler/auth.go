package handler

import (
	"crypto/subtle"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// JwtKey signs and verifies API tokens. Override via JWT_SECRET in
// production; the default exists so local development works out of the box.
var JwtKey = []byte(getEnvDefault("JWT_SECRET", "dev-secret-change-me"))

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /login-jwt
func LoginJWT(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}

	wantUser := getEnvDefault("API_USERNAME", "admin")
	wantPass := getEnvDefault("API_PASSWORD", "admin")

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(wantPass)) == 1
	if !userOK || !passOK {
		return ErrorResponse(c, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS", "")
	}

	claims := jwt.MapClaims{
		"sub": req.Username,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(72 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(JwtKey)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to sign token", "TOKEN_SIGN_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Login successful", map[string]interface{}{
		"token":     signed,
		"expiresIn": int((72 * time.Hour).Seconds()),
	})
}

// GET /api/validate
func ValidateToken(c echo.Context) error {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return ErrorResponse(c, http.StatusUnauthorized, "Token missing", "TOKEN_MISSING", "")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrorResponse(c, http.StatusUnauthorized, "Invalid token claims", "TOKEN_INVALID", "")
	}

	return SuccessResponse(c, http.StatusOK, "Token is valid", map[string]interface{}{
		"subject":   claims["sub"],
		"expiresAt": claims["exp"],
	})
}
