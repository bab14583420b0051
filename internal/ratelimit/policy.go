package ratelimit

import "time"

// Policy is the request budget for one endpoint within a fixed window.
type Policy struct {
	Window time.Duration
	Max    int
}

// Policies maps exact endpoint paths to their budget, with a fallback.
type Policies struct {
	byEndpoint map[string]Policy
	fallback   Policy
}

// Default budget for any endpoint without its own entry.
var DefaultPolicy = Policy{Window: time.Minute, Max: 60}

const (
	// LoginEndpoint is the policy key for sign-in throttling by client address.
	LoginEndpoint = "/api/auth"
	// LoginFailureEndpoint counts failed sign-ins; a client that exhausts it
	// is locked out until the window ends.
	LoginFailureEndpoint = "/api/auth#failed"
)

// DefaultPolicies returns the budgets for the admin API.
func DefaultPolicies() *Policies {
	return NewPolicies(map[string]Policy{
		"/api/admin/server/status": {Window: time.Minute, Max: 120},
		"/api/admin/server/start":  {Window: time.Minute, Max: 5},
		"/api/admin/server/stop":   {Window: time.Minute, Max: 5},
		"/api/admin/logs":          {Window: time.Minute, Max: 30},
		"/api/admin/rcon":          {Window: time.Minute, Max: 10},
		LoginEndpoint:              {Window: 15 * time.Minute, Max: 20},
		LoginFailureEndpoint:       {Window: time.Hour, Max: 10},
	}, DefaultPolicy)
}

// NewPolicies builds a policy table. Entries with a non-positive window are
// replaced by the fallback.
func NewPolicies(byEndpoint map[string]Policy, fallback Policy) *Policies {
	table := make(map[string]Policy, len(byEndpoint))
	for endpoint, p := range byEndpoint {
		if p.Window <= 0 {
			p = fallback
		}
		table[endpoint] = p
	}
	return &Policies{byEndpoint: table, fallback: fallback}
}

// For returns the policy for endpoint. Lookup is by exact path.
func (p *Policies) For(endpoint string) Policy {
	if policy, ok := p.byEndpoint[endpoint]; ok {
		return policy
	}
	return p.fallback
}
