package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
	"github.com/ohmynofan/provider-checkin-bot/pkg/utils"
)

const (
	challengeCookieMarker = "acw_sc__v2"
	challengeScriptMarker = "<script>var arg1="
)

type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Status)
}

// ChallengeError marks a response the WAF answered with an anti-bot challenge
// page instead of the expected payload. The executor special-cases it.
type ChallengeError struct {
	StatusCode int
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("waf challenge detected (status %d)", e.StatusCode)
}

type FetchOptions struct {
	Cookies           map[string]string
	APIUserHeader     string
	APIUserID         string
	Query             interface{}
	ExpectJSON        bool
	AdditionalHeaders map[string]string
}

type APIResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type APIClient struct {
	Proxy      string
	UserAgent  string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Log        *logger.ClassLogger
}

func NewAPIClient(proxy string, retry RetryPolicy) (*APIClient, error) {
	transport := &http.Transport{}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	apiClient := &APIClient{
		Proxy:     proxy,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   120 * time.Second,
		},
		Retry: retry,
	}
	apiClient.Log = logger.NewLogger(apiClient, nil)

	return apiClient, nil
}

func (c *APIClient) generateHeaders(opts *FetchOptions) map[string]string {
	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"User-Agent":      c.UserAgent,
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	}
	if cookie := BuildCookieHeader(opts.Cookies); cookie != "" {
		headers["Cookie"] = cookie
	}
	if opts.APIUserHeader != "" && opts.APIUserID != "" {
		headers[opts.APIUserHeader] = opts.APIUserID
	}
	return headers
}

// BuildCookieHeader joins key=value pairs with "; ", sorted for stable output.
func BuildCookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cookies))
	for k := range cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, cookies[k]))
	}
	return strings.Join(pairs, "; ")
}

// Get issues a GET request with retry. A challenge response is surfaced as a
// *ChallengeError, never retried here.
func (c *APIClient) Get(ctx context.Context, endpoint string, opts *FetchOptions) (*APIResponse, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}
	return c.Retry.Do(ctx, func() (*APIResponse, error) {
		return c.fetch(ctx, endpoint, opts)
	})
}

func (c *APIClient) fetch(ctx context.Context, endpoint string, opts *FetchOptions) (*APIResponse, error) {
	if opts.Query != nil {
		encoded, err := utils.EncodeURLParams(opts.Query)
		if err != nil {
			return nil, err
		}
		if encoded != "" {
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			endpoint = endpoint + sep + encoded
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.generateHeaders(opts) {
		req.Header.Set(key, value)
	}
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}

	c.Log.JustLog(fmt.Sprintf("GET %s", endpoint))

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.Log.JustLog(fmt.Sprintf("Response %d:\n%s", res.StatusCode, utils.BeautifyJSON(resBodyBytes)))

	response := &APIResponse{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       resBodyBytes,
	}

	if DetectChallenge(resBodyBytes, opts.ExpectJSON) {
		return response, &ChallengeError{StatusCode: res.StatusCode}
	}

	if res.StatusCode >= 200 && res.StatusCode < 400 {
		return response, nil
	}

	return response, &HTTPError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Body:       resBodyBytes,
	}
}

// DetectChallenge fingerprints anti-bot challenge bodies: the WAF cookie
// marker, the challenge bootstrap script, or HTML where JSON was expected.
func DetectChallenge(body []byte, expectJSON bool) bool {
	if bytes.Contains(body, []byte(challengeCookieMarker)) {
		return true
	}
	if bytes.Contains(body, []byte(challengeScriptMarker)) {
		return true
	}
	if expectJSON {
		trimmed := bytes.TrimLeft(body, " \t\r\n")
		if len(trimmed) > 0 && trimmed[0] == '<' {
			return true
		}
	}
	return false
}
