package groupauth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck-go/internal/domain/execution"
)

const testSecret = "test-secret"

func testContext(t *testing.T, target string, headers map[string]string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func signedToken(t *testing.T, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": email})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestCallerEmailFromHeader(t *testing.T) {
	c := testContext(t, "/logs", map[string]string{"X-Group-Email": "dev@example.com"})
	assert.Equal(t, "dev@example.com", CallerEmail(c, testSecret))
}

func TestCallerEmailFromLegacyTenantHeader(t *testing.T) {
	c := testContext(t, "/logs", map[string]string{"X-Tenant-Email": "legacy@example.com"})
	assert.Equal(t, "legacy@example.com", CallerEmail(c, testSecret))
}

func TestCallerEmailFromQuery(t *testing.T) {
	c := testContext(t, "/logs?group_email=dev@example.com", nil)
	assert.Equal(t, "dev@example.com", CallerEmail(c, testSecret))
}

func TestCallerEmailFromLegacyTenantQuery(t *testing.T) {
	c := testContext(t, "/logs?tenant_email=legacy@example.com", nil)
	assert.Equal(t, "legacy@example.com", CallerEmail(c, testSecret))
}

func TestHeaderTakesPrecedenceOverLegacyForms(t *testing.T) {
	c := testContext(t, "/logs?tenant_email=legacy@example.com", map[string]string{
		"X-Group-Email": "dev@example.com",
	})
	assert.Equal(t, "dev@example.com", CallerEmail(c, testSecret))
}

func TestCallerEmailFromBearerToken(t *testing.T) {
	c := testContext(t, "/logs", map[string]string{
		"Authorization": "Bearer " + signedToken(t, "jwt@example.com"),
	})
	assert.Equal(t, "jwt@example.com", CallerEmail(c, testSecret))
}

func TestCallerEmailRejectsBadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "spoof@example.com"})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	c := testContext(t, "/logs", map[string]string{"Authorization": "Bearer " + signed})
	assert.Empty(t, CallerEmail(c, testSecret))
}

func TestCallerEmailMissingIdentity(t *testing.T) {
	c := testContext(t, "/logs", nil)
	assert.Empty(t, CallerEmail(c, testSecret))
}

func TestMiddlewareStoresResolvedScope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolve := func(c *gin.Context, email string) execution.GroupContext {
		if email == "dev@example.com" {
			return execution.GroupContext{
				PrimaryGroupID: "group-a",
				GroupIDs:       []string{"group-a"},
				GroupEmail:     email,
			}
		}
		return execution.GroupContext{GroupEmail: email}
	}

	r := gin.New()
	r.Use(Middleware(resolve, testSecret))
	var captured execution.GroupContext
	r.GET("/probe", func(c *gin.Context) {
		captured = FromContext(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Group-Email", "dev@example.com")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "group-a", captured.PrimaryGroupID)

	// Unknown identity still passes through, carrying an empty scope.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, captured.Empty())
}
