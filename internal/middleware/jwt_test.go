package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codeprobe-api/internal/middleware"
)

const testSecret = "interview-secret"

func jwtApp(cfg middleware.JWTConfig) *fiber.App {
	app := fiber.New()
	app.Get("/whoami", middleware.JWTProtected(cfg), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"user_id": c.Locals("user_id"),
			"role":    c.Locals("user_role"),
		})
	})
	return app
}

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func callWhoami(t *testing.T, app *fiber.App, authorization string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestJWTProtectedExposesCaller(t *testing.T) {
	app := jwtApp(middleware.JWTConfig{Secret: testSecret})

	cases := []struct {
		name   string
		claims jwt.MapClaims
		role   interface{}
	}{
		{name: "numeric subject", claims: jwt.MapClaims{"sub": 42, "role": "Employer"}, role: "employer"},
		{name: "string subject", claims: jwt.MapClaims{"sub": "42", "roles": []string{"", "interviewer"}}, role: "interviewer"},
		{name: "user_id fallback", claims: jwt.MapClaims{"user_id": 42}, role: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := callWhoami(t, app, "Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, tc.claims))
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, float64(42), body["user_id"])
			require.Equal(t, tc.role, body["role"])
		})
	}
}

func TestJWTProtectedRejects(t *testing.T) {
	app := jwtApp(middleware.JWTConfig{Secret: testSecret, Issuer: "hiring-platform"})
	valid := jwt.MapClaims{"sub": "7", "iss": "hiring-platform"}

	cases := []struct {
		name          string
		authorization string
	}{
		{name: "missing header", authorization: ""},
		{name: "wrong scheme", authorization: "Basic " + signToken(t, jwt.SigningMethodHS256, testSecret, valid)},
		{name: "wrong secret", authorization: "Bearer " + signToken(t, jwt.SigningMethodHS256, "other", valid)},
		{name: "wrong issuer", authorization: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "iss": "elsewhere"})},
		{name: "expired", authorization: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "7", "iss": "hiring-platform", "exp": time.Now().Add(-time.Hour).Unix()})},
		{name: "no subject", authorization: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"iss": "hiring-platform", "role": "admin"})},
		{name: "zero subject", authorization: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "0", "iss": "hiring-platform"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := callWhoami(t, app, tc.authorization)
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

			var body struct {
				Success bool   `json:"success"`
				Code    string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.False(t, body.Success)
			require.Equal(t, middleware.CodeUnauthorized, body.Code)
		})
	}
}
