package gamestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.mcstatus.io/v2/status/java/"
	requestTimeout = 5 * time.Second
)

// Players summarizes who is connected.
type Players struct {
	Online int      `json:"online"`
	Max    int      `json:"max"`
	List   []string `json:"list"`
}

// Status is the game server's view of itself.
type Status struct {
	Online  bool    `json:"online"`
	Players Players `json:"players"`
	Version *string `json:"version"`
	Motd    *string `json:"motd"`
}

// Offline is returned whenever the probe cannot produce a real answer.
func Offline() *Status {
	return &Status{Players: Players{List: []string{}}}
}

type mcstatusResponse struct {
	Online  bool `json:"online"`
	Players *struct {
		Online int `json:"online"`
		Max    int `json:"max"`
		List   []struct {
			NameClean string `json:"name_clean"`
		} `json:"list"`
	} `json:"players"`
	Version *struct {
		NameClean string `json:"name_clean"`
	} `json:"version"`
	Motd *struct {
		Clean string `json:"clean"`
	} `json:"motd"`
}

// Client queries mcstatus.io and caches answers briefly per address.
type Client struct {
	http    *http.Client
	baseURL string
	cache   *ttlcache.Cache[string, *Status]
	log     logrus.FieldLogger
}

// NewClient creates a Client. cacheTTL of zero disables caching.
func NewClient(cacheTTL time.Duration, log logrus.FieldLogger) *Client {
	c := &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
		log:     log.WithField("component", "gamestatus"),
	}
	if cacheTTL > 0 {
		c.cache = ttlcache.New[string, *Status](ttlcache.WithTTL[string, *Status](cacheTTL))
		go c.cache.Start()
	}
	return c
}

// Close stops the cache expiry loop.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Status probes address. It never fails: errors produce an offline status.
func (c *Client) Status(ctx context.Context, address string) *Status {
	if c.cache != nil {
		if item := c.cache.Get(address); item != nil {
			return item.Value()
		}
	}

	status, err := c.fetch(ctx, address)
	if err != nil {
		c.log.WithError(err).WithField("address", address).Info("game status unavailable")
		return Offline()
	}
	if c.cache != nil {
		c.cache.Set(address, status, ttlcache.DefaultTTL)
	}
	return status
}

func (c *Client) fetch(ctx context.Context, address string) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+url.PathEscape(address), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcstatus.io returned %d", resp.StatusCode)
	}

	var body mcstatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if !body.Online {
		return Offline(), nil
	}

	status := &Status{Online: true, Players: Players{List: []string{}}}
	if body.Players != nil {
		status.Players.Online = body.Players.Online
		status.Players.Max = body.Players.Max
		for _, p := range body.Players.List {
			status.Players.List = append(status.Players.List, p.NameClean)
		}
	}
	if body.Version != nil && body.Version.NameClean != "" {
		status.Version = &body.Version.NameClean
	}
	if body.Motd != nil && strings.TrimSpace(body.Motd.Clean) != "" {
		motd := body.Motd.Clean
		status.Motd = &motd
	}
	return status, nil
}
