package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"familycall-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, mw gin.HandlerFunc, userID, familyID, role, deviceID string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			ctx := auth.WithIdentity(c.Request.Context(), userID, familyID, role, deviceID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.Use(mw)
	r.GET("/x", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRequireFamily_RejectsMissingFamily(t *testing.T) {
	w := doRequest(t, RequireFamily(), "", "", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireFamily_AllowsWithFamily(t *testing.T) {
	w := doRequest(t, RequireFamily(), "u1", "f1", RoleChild, "d1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAnyRole_ParentBypasses(t *testing.T) {
	w := doRequest(t, RequireAnyRole(RoleFamilyMember), "u1", "f1", RoleParent, "d1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected parent bypass, got %d", w.Code)
	}
}

func TestRequireAnyRole_DeniesUnlistedRole(t *testing.T) {
	w := doRequest(t, RequireAnyRole(RoleFamilyMember), "u1", "f1", RoleChild, "d1")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRequireAnyRole_AllowsListedRole(t *testing.T) {
	w := doRequest(t, RequireAnyRole(RoleChild, RoleFamilyMember), "u1", "f1", RoleChild, "d1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
