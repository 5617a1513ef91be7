package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/sessions/:id", handlers...)
	return r
}

func do(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sessions/ses-1", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	r := newRouter(JWT(validatorStub{claims: &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}}))

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer bad").Code)
	assert.Equal(t, http.StatusNoContent, do(r, "Bearer good").Code)
}

func TestRequirePermission(t *testing.T) {
	tutor := validatorStub{claims: &models.JWTClaims{UserID: "tut-1", Role: models.RoleTutor}}
	coordinator := validatorStub{claims: &models.JWTClaims{UserID: "crd-1", Role: models.RoleCoordinator}}

	w := do(newRouter(JWT(tutor), RequirePermission(models.OpSessionOverride)), "Bearer good")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")

	w = do(newRouter(JWT(coordinator), RequirePermission(models.OpSessionOverride)), "Bearer good")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(newRouter(RequirePermission(models.OpSessionRead)), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type observerStub struct {
	path   string
	status int
}

func (o *observerStub) ObserveHTTPRequest(_ string, path string, status int, _ time.Duration) {
	o.path, o.status = path, status
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &observerStub{}
	do(newRouter(Metrics(obs)), "")
	assert.Equal(t, "/sessions/:id", obs.path)
	assert.Equal(t, http.StatusNoContent, obs.status)
}

func TestRequestMetaReachesServices(t *testing.T) {
	var meta service.RequestMeta
	r := newRouter(RequestMeta(), func(c *gin.Context) {
		meta = service.RequestMetaFrom(c.Request.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/sessions/ses-1", nil)
	req.Header.Set("User-Agent", "planner/1.0")
	req.RemoteAddr = "10.1.2.3:5555"
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.NotEmpty(t, meta.IP)
	assert.Equal(t, "10.1.2.3", meta.IP)
	assert.Equal(t, "planner/1.0", meta.UserAgent)
}
