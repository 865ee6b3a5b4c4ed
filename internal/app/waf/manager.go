package waf

import (
	"context"
	"fmt"
	"time"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
)

type CookieStore interface {
	ValidWafCookies(providerID string, now time.Time) (*model.WafCookies, error)
	SaveWafCookies(entry *model.WafCookies) error
	InvalidateWafCookies(providerID string) error
}

type BypassService interface {
	GetWafCookies(ctx context.Context, loginURL, accountName string) (map[string]string, error)
}

// Manager time-boxes bypass results so repeated check-ins skip the browser
// launch while the cached cookies are still fresh.
type Manager struct {
	store  CookieStore
	bypass BypassService
	ttl    time.Duration
	now    func() time.Time
	log    *logger.ClassLogger
}

func NewManager(store CookieStore, bypass BypassService, ttl time.Duration) *Manager {
	m := &Manager{
		store:  store,
		bypass: bypass,
		ttl:    ttl,
		now:    time.Now,
	}
	m.log = logger.NewLogger(m, nil)
	return m
}

// Cookies returns the cached cookie set when still valid, otherwise runs a
// fresh bypass and caches the result.
func (m *Manager) Cookies(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error) {
	cached, err := m.store.ValidWafCookies(provider.ID, m.now())
	if err != nil {
		m.log.JustLog(fmt.Sprintf("Warning: failed reading waf cookie cache for %s: %v", provider.Name, err))
	}
	if cached.Valid(m.now()) {
		return cached.Cookies, nil
	}
	return m.Refresh(ctx, provider, accountName)
}

// Refresh drops the cached entry and forces a full browser bypass.
func (m *Manager) Refresh(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error) {
	if err := m.store.InvalidateWafCookies(provider.ID); err != nil {
		m.log.JustLog(fmt.Sprintf("Warning: failed invalidating waf cookies for %s: %v", provider.Name, err))
	}

	cookies, err := m.bypass.GetWafCookies(ctx, provider.LoginURL(), accountName)
	if err != nil {
		return nil, err
	}

	entry := model.NewWafCookies(provider.ID, cookies, m.now(), m.ttl)
	if err := m.store.SaveWafCookies(entry); err != nil {
		m.log.JustLog(fmt.Sprintf("Warning: failed caching waf cookies for %s: %v", provider.Name, err))
	}
	return cookies, nil
}
