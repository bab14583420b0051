package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubUserURL = "https://api.github.com/user"

// ErrNotAuthorized is returned when a valid GitHub user is not an admin.
var ErrNotAuthorized = errors.New("user is not on the admin allow-list")

// Allowlist holds the lowercased GitHub usernames permitted to sign in.
type Allowlist struct {
	users map[string]struct{}
}

func NewAllowlist(usernames []string) *Allowlist {
	users := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			users[u] = struct{}{}
		}
	}
	return &Allowlist{users: users}
}

// Allowed reports whether username may sign in. Matching ignores case.
func (a *Allowlist) Allowed(username string) bool {
	_, ok := a.users[strings.ToLower(username)]
	return ok
}

// GitHubProvider runs the GitHub OAuth authorization-code flow.
type GitHubProvider struct {
	oauth   *oauth2.Config
	userURL string
}

// NewGitHubProvider configures the flow; redirectURL must match the OAuth app.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		userURL: githubUserURL,
	}
}

// AuthCodeURL returns the GitHub consent URL carrying state.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// Exchange trades code for a token and loads the GitHub profile. The
// returned username is lowercased.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profile: github returned %d", resp.StatusCode)
	}

	var user githubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if user.Login == "" {
		return nil, errors.New("profile has no login")
	}

	return &Identity{
		UserID:    strconv.FormatInt(user.ID, 10),
		Username:  strings.ToLower(user.Login),
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}
