package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"foodlog/internal/config"
	"foodlog/pkg/auth"
)

func whoAmI(c *fiber.Ctx) error {
	return c.SendString(UserID(c))
}

func TestLocalAuthMiddleware(t *testing.T) {
	jwtAuth, err := auth.NewLocalJWTAuth("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewLocalJWTAuth failed: %v", err)
	}
	token, err := jwtAuth.IssueToken(auth.User{ID: "user-42", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	other, _ := auth.NewLocalJWTAuth("other-secret", time.Minute)
	forged, _ := other.IssueToken(auth.User{ID: "user-42"})

	app := fiber.New()
	app.Get("/me", LocalAuthMiddleware(jwtAuth), whoAmI)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + token, fiber.StatusOK},
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, fiber.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, fiber.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestLocalAuthMiddleware_DevBypass(t *testing.T) {
	app := fiber.New()
	app.Get("/me", LocalAuthMiddleware(nil), whoAmI)

	t.Setenv("ENVIRONMENT", "development")
	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected dev bypass, got %d", resp.StatusCode)
	}

	t.Setenv("ENVIRONMENT", "production")
	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("expected 503 in production without auth, got %d", resp.StatusCode)
	}
}

func TestAdminMiddleware(t *testing.T) {
	t.Setenv("ENVIRONMENT", "testing")
	cfg := &config.Config{AdminUserIDs: []string{"dev-user"}}

	app := fiber.New()
	app.Get("/admin", LocalAuthMiddleware(nil), AdminMiddleware(cfg), whoAmI)

	resp, err := app.Test(httptest.NewRequest("GET", "/admin", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected admin access, got %d", resp.StatusCode)
	}

	cfg.AdminUserIDs = []string{"someone-else"}
	resp, err = app.Test(httptest.NewRequest("GET", "/admin", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

func TestLLMRateLimiter(t *testing.T) {
	t.Setenv("ENVIRONMENT", "testing")
	cfg := DefaultRateLimitConfig()
	cfg.LLMMax = 2

	app := fiber.New()
	app.Post("/log", LocalAuthMiddleware(nil), LLMRateLimiter(cfg), whoAmI)

	for i, want := range []int{200, 200, 429} {
		resp, err := app.Test(httptest.NewRequest("POST", "/log", nil))
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != want {
			t.Errorf("request %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}
}
