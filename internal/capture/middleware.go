package capture

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxOrgIDKey = "captureOrgID"
	ctxKeyIDKey = "captureKeyID"
)

// KeyLookup is the subset of the API key repository the middleware needs.
type KeyLookup interface {
	GetByKeyID(ctx context.Context, keyID string) (APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// APIKeyAuth validates the X-Capture-API-Key header and sets the
// organization context for downstream handlers.
func APIKeyAuth(keys KeyLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Capture-API-Key")
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		keyID, secret, ok := SplitAPIKey(presented)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		key, err := keys.GetByKeyID(c.Request.Context(), keyID)
		if err != nil || !key.VerifySecret(secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		if len(key.AllowedDomains) > 0 {
			origin := c.GetHeader("Origin")
			if origin == "" {
				origin = c.GetHeader("Referer")
			}
			if !isDomainAllowed(origin, key.AllowedDomains) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "domain not allowed"})
				return
			}
		}

		_ = keys.TouchLastUsed(c.Request.Context(), key.ID)

		c.Set(ctxOrgIDKey, key.OrganizationID)
		c.Set(ctxKeyIDKey, key.ID)
		c.Next()
	}
}

// CaptureOrgID returns the organization id set by APIKeyAuth.
func CaptureOrgID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ctxOrgIDKey)
	if !exists {
		return uuid.Nil, false
	}
	orgID, ok := value.(uuid.UUID)
	return orgID, ok
}

// isDomainAllowed checks the origin against the key's allow-list. Supports
// exact matches and wildcard subdomains ("*.example.com").
func isDomainAllowed(origin string, allowedDomains []string) bool {
	if origin == "" {
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())

	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "*" {
			return true
		}
		if strings.HasPrefix(domain, "*.") {
			suffix := domain[1:]
			if strings.HasSuffix(host, suffix) || host == domain[2:] {
				return true
			}
		} else if host == domain {
			return true
		}
	}
	return false
}
