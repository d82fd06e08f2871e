package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func authRouter(am *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin", am.RequireAuth(), am.RequireRole("admin"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func adminRequest(router *gin.Engine, token string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestAuthTokenRoundTrip(t *testing.T) {
	am := NewAuthMiddleware("test-secret", zap.NewNop())
	router := authRouter(am)

	token, err := am.GenerateToken("op-1", "admin", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if recorder := adminRequest(router, token); recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", recorder.Code)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	am := NewAuthMiddleware("test-secret", zap.NewNop())
	router := authRouter(am)

	if recorder := adminRequest(router, ""); recorder.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", recorder.Code)
	}
}

func TestAuthRejectsTamperedToken(t *testing.T) {
	am := NewAuthMiddleware("test-secret", zap.NewNop())
	router := authRouter(am)

	token, err := am.GenerateToken("op-1", "admin", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if recorder := adminRequest(router, token+"x"); recorder.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", recorder.Code)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	am := NewAuthMiddleware("test-secret", zap.NewNop())
	router := authRouter(am)

	token, err := am.GenerateToken("op-1", "admin", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if recorder := adminRequest(router, token); recorder.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", recorder.Code)
	}
}

func TestAuthRejectsWrongRole(t *testing.T) {
	am := NewAuthMiddleware("test-secret", zap.NewNop())
	router := authRouter(am)

	token, err := am.GenerateToken("op-2", "viewer", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if recorder := adminRequest(router, token); recorder.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", recorder.Code)
	}
}
