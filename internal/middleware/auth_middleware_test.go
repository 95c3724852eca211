package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/skillup-labs/skillup-live/internal/auth"
	"github.com/skillup-labs/skillup-live/internal/models"
	"github.com/skillup-labs/skillup-live/internal/services"
	"github.com/skillup-labs/skillup-live/pkg/response"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "skillup-live"})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", Auth(jwtSvc), func(c *gin.Context) {
		principal, _ := CurrentPrincipal(c)
		response.Success(c, http.StatusOK, principal.ID)
	})
	router.GET("/admin", Auth(jwtSvc), RequireAdmin(), func(c *gin.Context) {
		response.Success(c, http.StatusOK, "ok")
	})
	return router, jwtSvc
}

func issueToken(t *testing.T, jwtSvc *iauth.JWTService, role string) string {
	t.Helper()

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: "user-1",
		Email:  "alice@example.com",
		Role:   role,
	})
	require.NoError(t, err)
	return token
}

func TestAuth_RejectsMissingAndMalformedHeaders(t *testing.T) {
	router, _ := newAuthRouter(t)

	for _, header := range []string{"", "Bearer", "Token abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestAuth_RejectsInvalidToken(t *testing.T) {
	router, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_AcceptsValidTokenAndStoresPrincipal(t *testing.T) {
	router, jwtSvc := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, jwtSvc, "student"))
	req.Header.Set(HeaderDeviceID, "dev-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "user-1")
}

func TestRequireAdmin(t *testing.T) {
	router, jwtSvc := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, jwtSvc, "student"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, jwtSvc, models.RoleAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCurrentPrincipal_MissingContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := CurrentPrincipal(c)
	require.False(t, ok)

	c.Set(CtxPrincipalKey, services.Principal{ID: "user-1"})
	principal, ok := CurrentPrincipal(c)
	require.True(t, ok)
	require.Equal(t, "user-1", principal.ID)
}
