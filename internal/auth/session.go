package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// SessionCookie holds the signed session token.
	SessionCookie = "blockhaven_session"
	// SessionTTL is the lifetime of an issued session.
	SessionTTL = 7 * 24 * time.Hour

	sessionIssuer = "blockhaven"
	keyInfo       = "blockhaven session signing key v1"
)

// Identity is an authenticated operator.
type Identity struct {
	UserID    string `json:"id"`
	Username  string `json:"githubUsername"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"image,omitempty"`
}

// RateLimitKey identifies the operator for rate limiting: username, then
// e-mail, then "unknown".
func (i *Identity) RateLimitKey() string {
	switch {
	case i == nil:
		return "unknown"
	case i.Username != "":
		return i.Username
	case i.Email != "":
		return i.Email
	default:
		return "unknown"
	}
}

// Claims are the JWT claims carried in the session cookie.
type Claims struct {
	Username  string `json:"githubUsername"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"image,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies session cookies.
type SessionManager struct {
	key    []byte
	secure bool
	now    func() time.Time
}

// NewSessionManager derives the signing key from secret. An empty secret
// yields a manager that never resolves a session.
func NewSessionManager(secret string, secure bool) (*SessionManager, error) {
	m := &SessionManager{secure: secure, now: time.Now}
	if secret == "" {
		return m, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	m.key = key
	return m, nil
}

// Enabled reports whether sessions can be issued.
func (m *SessionManager) Enabled() bool {
	return len(m.key) > 0
}

// Issue signs a session for id and sets it on w.
func (m *SessionManager) Issue(w http.ResponseWriter, id *Identity) error {
	if !m.Enabled() {
		return errors.New("authentication is not configured")
	}

	now := m.now()
	claims := Claims{
		Username:  id.Username,
		Email:     id.Email,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(SessionTTL),
		MaxAge:   int(SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Resolve returns the identity of r's session. It returns nil and no error
// when there is no session; an error means a token was present but invalid.
func (m *SessionManager) Resolve(r *http.Request) (*Identity, error) {
	if !m.Enabled() {
		return nil, nil
	}
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid session token")
	}

	return &Identity{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
	}, nil
}
