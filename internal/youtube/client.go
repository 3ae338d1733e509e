package youtube

import (
	"net/http"
	"strings"
	"sync"
	"time"

	logx "tubewatch/pkg/logx"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/youtube/v3"
	DefaultPageSize = 5
	MaxPageSize     = 50
)

// Client provides access to the YouTube Data API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logx.Logger

	pageSize     int
	maxRetries   int
	retryBackoff time.Duration

	mu        sync.Mutex
	playlists map[string]string // channel id -> uploads playlist id
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client authenticating with apiKey. An empty key is
// allowed when WithAccessToken is used instead.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		log:          logx.Nop(),
		pageSize:     DefaultPageSize,
		maxRetries:   3,
		retryBackoff: time.Second,
		playlists:    map[string]string{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithPageSize sets maxResults for playlist listings, clamped to [1, 50].
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		switch {
		case n <= 0:
			c.pageSize = DefaultPageSize
		case n > MaxPageSize:
			c.pageSize = MaxPageSize
		default:
			c.pageSize = n
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSec float64) ClientOption {
	return func(c *Client) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithAccessToken sends an OAuth bearer token on every request.
func WithAccessToken(token string) ClientOption {
	return func(c *Client) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		c.httpClient = &http.Client{
			Timeout: c.httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
				Base:   c.httpClient.Transport,
			},
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logx.Logger) ClientOption {
	return func(c *Client) {
		if !log.IsZero() {
			c.log = log
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}
