package model

import "time"

// DefaultWafCookieTTL bounds how long a bypass result is reused before a
// fresh browser launch is required.
const DefaultWafCookieTTL = 24 * time.Hour

type WafCookies struct {
	ProviderID string            `json:"provider_id"`
	Cookies    map[string]string `json:"cookies"`
	FetchedAt  time.Time         `json:"fetched_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

func NewWafCookies(providerID string, cookies map[string]string, now time.Time, ttl time.Duration) *WafCookies {
	if ttl <= 0 {
		ttl = DefaultWafCookieTTL
	}
	return &WafCookies{
		ProviderID: providerID,
		Cookies:    cookies,
		FetchedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

func (w *WafCookies) Valid(now time.Time) bool {
	if w == nil || len(w.Cookies) == 0 {
		return false
	}
	return now.Before(w.ExpiresAt)
}
