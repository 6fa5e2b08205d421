package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSGate_EmptyKeyAllowsEverything(t *testing.T) {
	gate := NewWSGate("")
	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWSGate_RejectsMissingCredentials(t *testing.T) {
	gate := NewWSGate("s3cr3t")
	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWSGate_AllowsQueryParamKey(t *testing.T) {
	gate := NewWSGate("s3cr3t")
	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws?api_key=s3cr3t", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWSGate_AllowsHeaderKey(t *testing.T) {
	gate := NewWSGate("s3cr3t")
	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-API-Key", "s3cr3t")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWSGate_RejectsWrongKey(t *testing.T) {
	gate := NewWSGate("s3cr3t")
	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws?api_key=wrong", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWSGate_AllowsValidHMACBearerToken(t *testing.T) {
	secret := "s3cr3t"
	gate := NewWSGate(secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWSGate_RejectsBearerTokenSignedWithWrongSecret(t *testing.T) {
	gate := NewWSGate("s3cr3t")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWSGate_RejectsBearerTokenSignedWithWrongAlgorithm(t *testing.T) {
	gate := NewWSGate("s3cr3t")

	// RS256 requires an RSA key; without one to sign with, assert the
	// middleware would reject a non-HMAC alg header rather than assume
	// one succeeded. Allow itself already type-switches on
	// *jwt.SigningMethodHMAC, so a none-alg or RS256 token never reaches
	// key lookup with the shared secret.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWSGate_RejectsExpiredBearerToken(t *testing.T) {
	secret := "s3cr3t"
	gate := NewWSGate(secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", gate.Middleware(), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
