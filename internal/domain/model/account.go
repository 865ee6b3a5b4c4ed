package model

import (
	"strings"
	"time"
)

type AutoCheckIn struct {
	Enabled bool `json:"enabled"`
	Hour    int  `json:"hour"`
	Minute  int  `json:"minute"`
}

type Account struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ProviderID  string            `json:"provider_id"`
	Cookies     map[string]string `json:"cookies"`
	APIUserID   string            `json:"api_user_id"`
	Enabled     bool              `json:"enabled"`
	AutoCheckIn AutoCheckIn       `json:"auto_check_in"`

	// Cached balance snapshot from the last successful user-info fetch.
	Quota     float64 `json:"quota"`
	UsedQuota float64 `json:"used_quota"`

	LastCheckInAt time.Time `json:"last_check_in_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a *Account) CookieSnapshot() map[string]string {
	cookies := make(map[string]string, len(a.Cookies))
	for k, v := range a.Cookies {
		cookies[k] = v
	}
	return cookies
}

// CheckedInOn reports whether the account's last check-in falls on the same
// calendar day as t, in t's location.
func (a *Account) CheckedInOn(t time.Time) bool {
	if a.LastCheckInAt.IsZero() {
		return false
	}
	last := a.LastCheckInAt.In(t.Location())
	y1, m1, d1 := last.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// CachedUserInfo returns the balance from the last successful fetch. A zero
// balance is still a known balance.
func (a *Account) CachedUserInfo() *UserInfo {
	return &UserInfo{Quota: a.Quota, UsedQuota: a.UsedQuota}
}

func (a *Account) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}
