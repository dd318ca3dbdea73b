package groupauth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/crewdeck-go/internal/domain/execution"
)

// ContextKey is where the resolved group scope is stored on the gin
// context.
const ContextKey = "groupContext"

const (
	headerGroupEmail = "X-Group-Email"
	// Pre-rename clients still send the tenant header.
	headerTenantEmail = "X-Tenant-Email"

	queryGroupEmail = "group_email"
	// Pre-rename clients still send the tenant query parameter.
	queryTenantEmail = "tenant_email"
)

// EmailResolver maps a caller email to its group scope. It mirrors
// groups.Resolver without importing it, so the middleware can be tested
// with a closure.
type EmailResolver func(c *gin.Context, email string) execution.GroupContext

// Middleware resolves the caller's group context from, in order, the
// group email header, its legacy tenant alias, or the email claim of a
// bearer token, and stores it on the request context. Requests with no
// resolvable identity proceed with an empty scope; scoped reads then
// return nothing rather than failing the request.
func Middleware(resolve EmailResolver, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := CallerEmail(c, jwtSecret)
		c.Set(ContextKey, resolve(c, email))
		c.Next()
	}
}

// CallerEmail extracts the caller's email from headers, query parameters
// or a bearer token. Returns "" when no identity is present.
func CallerEmail(c *gin.Context, jwtSecret string) string {
	if email := c.GetHeader(headerGroupEmail); email != "" {
		return email
	}
	if email := c.GetHeader(headerTenantEmail); email != "" {
		return email
	}
	if email := c.Query(queryGroupEmail); email != "" {
		return email
	}
	if email := c.Query(queryTenantEmail); email != "" {
		return email
	}
	return emailFromBearer(c.GetHeader("Authorization"), jwtSecret)
}

func emailFromBearer(header, secret string) string {
	if secret == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

// FromContext reads the group scope stored by Middleware. Missing scope
// resolves to the empty context, which downstream reads treat as
// no-access.
func FromContext(c *gin.Context) execution.GroupContext {
	v, ok := c.Get(ContextKey)
	if !ok {
		return execution.GroupContext{}
	}
	gc, ok := v.(execution.GroupContext)
	if !ok {
		return execution.GroupContext{}
	}
	return gc
}
