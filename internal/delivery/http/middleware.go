package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
	corsMaxAge       = "600"
)

// originPolicy matches request origins against configured entries.
// An entry ending in "*" matches every origin with that prefix, which is how
// extension builds with unpacked ids (chrome-extension://*, moz-extension://*) are allowed.
type originPolicy struct {
	exact    map[string]struct{}
	prefixes []string
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{exact: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
		case strings.HasSuffix(a, "*"):
			p.prefixes = append(p.prefixes, strings.TrimSuffix(a, "*"))
		default:
			p.exact[a] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// CORSMiddleware lets the tracking extension call the API from its own origin.
// Preflights from origins outside the policy are refused.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	policy := newOriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := policy.allows(origin)

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}
		if origin != "" && !allowed {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if allowed {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

// RequestObserver receives the duration of every served request
type RequestObserver interface {
	ObserveRequest(method, route string, status int, seconds float64)
}

// MetricsMiddleware reports request durations by matched route
func MetricsMiddleware(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observer.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// LoggerMiddleware logs requests
func LoggerMiddleware() gin.HandlerFunc {
	return gin.Logger()
}

// RecoveryMiddleware recovers from panics
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}
