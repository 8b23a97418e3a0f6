package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/trackersync/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

func protectedRouter() *gin.Engine {
	router := gin.New()
	router.Use(AuthRequired())
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"client_id": GetClientID(c),
			"client":    GetClientName(c),
			"role":      GetRole(c),
		})
	})
	return router
}

func TestAuthRequired_Rejects(t *testing.T) {
	router := protectedRouter()

	testCases := []string{
		"",
		"InvalidToken",
		"Basic token123",
		"Bearer",
		"Bearer ",
		"Bearer invalid.jwt.token",
	}

	for _, header := range testCases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status %d, got %d", header, http.StatusUnauthorized, w.Code)
		}
	}
}

func TestAuthRequired_ValidToken(t *testing.T) {
	token, _ := utils.GenerateToken(3, "scheduler", RoleOperator, 24)
	router := protectedRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["client_id"] != float64(3) || body["client"] != "scheduler" || body["role"] != RoleOperator {
		t.Errorf("context = %v", body)
	}
}

func TestRoleRequired(t *testing.T) {
	tests := []struct {
		role     string
		expected int
	}{
		{"", http.StatusForbidden},
		{"viewer", http.StatusForbidden},
		{RoleOperator, http.StatusOK},
		{RoleAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		router := gin.New()
		router.Use(func(c *gin.Context) {
			if tt.role != "" {
				c.Set(ContextRole, tt.role)
			}
			c.Next()
		})
		router.Use(RoleRequired(RoleOperator))
		router.POST("/sync", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/sync", nil)
		router.ServeHTTP(w, req)

		if w.Code != tt.expected {
			t.Errorf("role %q: expected status %d, got %d", tt.role, tt.expected, w.Code)
		}
	}
}

func TestContextGetters_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetClientID(c) != 0 || GetClientName(c) != "" || GetRole(c) != "" {
		t.Error("getters should return zero values when unset")
	}
}
