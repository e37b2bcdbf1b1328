//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestAuth_RegisterAndLogin(t *testing.T) {
	env := SetupTestEnv(t)

	result := RegisterUser(t, env, "auth-flow@example.com", "password123")
	data := result["data"].(map[string]any)
	if data["access_token"] == "" {
		t.Fatal("expected access token on register")
	}

	token := LoginUser(t, env, "auth-flow@example.com", "password123")
	if token == "" {
		t.Fatal("expected access token on login")
	}
}

func TestAuth_DuplicateEmail(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "dupe@example.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/auth/register",
		map[string]string{"email": "dupe@example.com", "password": "password123"}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
}

func TestAuth_WrongPassword(t *testing.T) {
	env := SetupTestEnv(t)

	RegisterUser(t, env, "wrongpw@example.com", "password123")

	resp := DoRequest(t, env, "POST", "/api/v1/auth/login",
		map[string]string{"email": "wrongpw@example.com", "password": "not-the-password"}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
}

func TestAuth_ProtectedRouteRequiresToken(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}
