package api

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/middleware"
	"github.com/blockhaven/server/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	oauthStateCookie = "blockhaven_oauth_state"
	oauthStateMaxAge = 600

	loginPath     = "/login"
	dashboardPath = "/dashboard"
)

func (r *Router) authConfigured() bool {
	return r.services.OAuth != nil && r.services.Sessions != nil && r.services.Sessions.Enabled()
}

func loginError(code string) string {
	return loginPath + "?error=" + url.QueryEscape(code)
}

func (r *Router) signIn(c *gin.Context) {
	if !r.authConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication is not configured"})
		return
	}

	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateMaxAge, "/api/auth", "", r.config.IsProduction(), true)
	c.Redirect(http.StatusFound, r.services.OAuth.AuthCodeURL(state))
}

func (r *Router) callback(c *gin.Context) {
	if !r.authConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication is not configured"})
		return
	}

	expected, _ := c.Cookie(oauthStateCookie)
	c.SetCookie(oauthStateCookie, "", -1, "/api/auth", "", r.config.IsProduction(), true)

	state := c.Query("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		r.loginFailed(c, nil, "invalid OAuth state", "OAuthCallback")
		return
	}

	if providerErr := c.Query("error"); providerErr != "" {
		r.loginFailed(c, nil, providerErr, "AccessDenied")
		return
	}

	identity, err := r.services.OAuth.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		r.log.WithError(err).Warn("OAuth exchange failed")
		r.loginFailed(c, nil, "OAuth exchange failed", "OAuthCallback")
		return
	}

	if r.services.Admins == nil || !r.services.Admins.Allowed(identity.Username) {
		r.log.WithField("github_username", identity.Username).Warn("sign-in denied: not an admin")
		r.loginFailed(c, identity, "not on admin allow-list", "AccessDenied")
		return
	}

	if err := r.services.Sessions.Issue(c.Writer, identity); err != nil {
		r.log.WithError(err).Error("failed to issue session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	r.services.Audit.LogAs(c, identity.UserID, identity.Username, audit.ActionLogin, true, map[string]interface{}{
		"provider": "github",
	})
	middleware.SetNewCSRFToken(c, r.csrf)
	if r.throttle != nil {
		r.throttle.RecordSuccess(c)
	}

	c.Redirect(http.StatusFound, dashboardPath)
}

// loginFailed audits a rejected sign-in, counts it against the client's
// lockout budget and sends the browser back to the login page.
func (r *Router) loginFailed(c *gin.Context, identity *auth.Identity, reason, code string) {
	var userID, username string
	if identity != nil {
		userID, username = identity.UserID, identity.Username
	}
	r.services.Audit.LogAs(c, userID, username, audit.ActionLoginFailed, false, map[string]interface{}{
		"reason": reason,
	})
	if r.throttle != nil {
		r.throttle.RecordFailure(c)
	}
	c.Redirect(http.StatusFound, loginError(code))
}

func (r *Router) signOut(c *gin.Context) {
	if r.services.Sessions != nil {
		if identity, _ := r.services.Sessions.Resolve(c.Request); identity != nil {
			r.services.Audit.LogAs(c, identity.UserID, identity.Username, audit.ActionLogout, true, nil)
		}
		r.services.Sessions.Clear(c.Writer)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (r *Router) session(c *gin.Context) {
	if r.services.Sessions == nil {
		c.JSON(http.StatusOK, models.SessionResponse{})
		return
	}

	identity, err := r.services.Sessions.Resolve(c.Request)
	if err != nil || identity == nil {
		c.JSON(http.StatusOK, models.SessionResponse{})
		return
	}

	token := middleware.GetCSRFToken(c)
	if token == "" {
		token = middleware.SetNewCSRFToken(c, r.csrf)
	}
	c.JSON(http.StatusOK, models.SessionResponse{User: identity, CSRFToken: token})
}
