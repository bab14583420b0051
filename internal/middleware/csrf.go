package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	csrfTokenLength = 32
	csrfCookieName  = "csrf_token"
	csrfHeaderName  = "X-CSRF-Token"
	csrfMaxAge      = 86400
)

// CSRFConfig holds CSRF middleware configuration
type CSRFConfig struct {
	// Secure determines if the cookie should only be sent over HTTPS
	Secure bool
	// SameSite controls the SameSite attribute
	SameSite http.SameSite
	// SkipPaths are path prefixes exempt from validation
	SkipPaths []string
}

// DefaultCSRFConfig protects every state-changing admin call.
func DefaultCSRFConfig(secure bool) CSRFConfig {
	return CSRFConfig{
		Secure:    secure,
		SameSite:  http.SameSiteStrictMode,
		SkipPaths: []string{"/api/auth"},
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// CSRFMiddleware enforces the double-submit cookie pattern: state-changing
// requests must echo the csrf_token cookie in the X-CSRF-Token header.
func CSRFMiddleware(config CSRFConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			ensureCSRFToken(c, config)
			c.Next()
			return
		}
		if matchesAny(c.Request.URL.Path, config.SkipPaths) {
			c.Next()
			return
		}

		cookieToken, err := c.Cookie(csrfCookieName)
		if err != nil || cookieToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "CSRF token missing from cookie"})
			return
		}

		headerToken := c.GetHeader(csrfHeaderName)
		if headerToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "CSRF token missing from header"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "CSRF token mismatch"})
			return
		}

		c.Next()
	}
}

// ensureCSRFToken ensures a CSRF token exists in the response cookie
func ensureCSRFToken(c *gin.Context, config CSRFConfig) {
	if _, err := c.Cookie(csrfCookieName); err == nil {
		return
	}
	SetNewCSRFToken(c, config)
}

func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GetCSRFToken returns the CSRF token presented by the request.
func GetCSRFToken(c *gin.Context) string {
	token, _ := c.Cookie(csrfCookieName)
	return token
}

// SetNewCSRFToken rotates the token, typically after sign-in. The cookie is
// readable by scripts so the dashboard can echo it.
func SetNewCSRFToken(c *gin.Context, config CSRFConfig) string {
	token, err := generateCSRFToken()
	if err != nil {
		return ""
	}

	c.SetSameSite(config.SameSite)
	c.SetCookie(csrfCookieName, token, csrfMaxAge, "/", "", config.Secure, false)
	return token
}
