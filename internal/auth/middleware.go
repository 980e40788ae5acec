package auth

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware authenticates API requests.
type Middleware struct {
	creds   Credentials
	enabled bool
}

// New builds the middleware for c. A disabled config lets every request
// through.
func New(c Config) (*Middleware, error) {
	if !c.Enabled {
		return &Middleware{}, nil
	}
	creds, err := c.Resolve()
	if err != nil {
		return nil, err
	}
	return &Middleware{creds: creds, enabled: true}, nil
}

func (m *Middleware) Enabled() bool { return m != nil && m.enabled }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if err := m.authenticate(c.Request); err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="hylord"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			return
		}
		c.Next()
	}
}

func (m *Middleware) authenticate(r *http.Request) error {
	var bearer string
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			bearer = strings.TrimSpace(parts[1])
		}
	}
	user, pass, basic := r.BasicAuth()
	return m.creds.Check(bearer, user, pass, basic)
}

// GinGuard rejects requests a browser page on another origin could send
// without a preflight: any request carrying a foreign Origin, and bodies
// that are not JSON.
func GinGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !SameOrigin(c.Request) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "cross_origin_denied",
				"message": "Cross-origin requests are not allowed",
			})
			return
		}
		if !jsonBody(c.Request) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"error":   "unsupported_media_type",
				"message": "Request body must be application/json",
			})
			return
		}
		c.Next()
	}
}

// SameOrigin reports whether r has no Origin header or one naming the host
// it was sent to. Also used as the websocket upgrader's origin check.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func jsonBody(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return r.ContentLength == 0
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/json"
}
