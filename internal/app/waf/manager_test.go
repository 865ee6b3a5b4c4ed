package waf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

type fakeCookieStore struct {
	entries     map[string]*model.WafCookies
	invalidated []string
}

func newFakeCookieStore() *fakeCookieStore {
	return &fakeCookieStore{entries: map[string]*model.WafCookies{}}
}

func (s *fakeCookieStore) ValidWafCookies(providerID string, now time.Time) (*model.WafCookies, error) {
	entry, ok := s.entries[providerID]
	if !ok || !entry.Valid(now) {
		return nil, nil
	}
	return entry, nil
}

func (s *fakeCookieStore) SaveWafCookies(entry *model.WafCookies) error {
	s.entries[entry.ProviderID] = entry
	return nil
}

func (s *fakeCookieStore) InvalidateWafCookies(providerID string) error {
	s.invalidated = append(s.invalidated, providerID)
	delete(s.entries, providerID)
	return nil
}

type fakeBypass struct {
	cookies map[string]string
	err     error
	calls   int
}

func (b *fakeBypass) GetWafCookies(ctx context.Context, loginURL, accountName string) (map[string]string, error) {
	b.calls++
	return b.cookies, b.err
}

func testProvider() *model.Provider {
	return &model.Provider{
		ID:                "prov-1",
		Name:              "testprov",
		Domain:            "https://api.example.com",
		LoginPath:         "/login",
		SignInPath:        "/api/user/sign_in",
		UserInfoPath:      "/api/user/self",
		RequiresWafBypass: true,
	}
}

func TestCookiesUsesValidCache(t *testing.T) {
	store := newFakeCookieStore()
	store.entries["prov-1"] = model.NewWafCookies("prov-1", map[string]string{"acw_tc": "cached"}, time.Now(), time.Hour)
	bypass := &fakeBypass{cookies: map[string]string{"acw_tc": "fresh"}}
	manager := NewManager(store, bypass, 24*time.Hour)

	cookies, err := manager.Cookies(context.Background(), testProvider(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "cached", cookies["acw_tc"])
	assert.Equal(t, 0, bypass.calls)
}

func TestCookiesRefreshesExpiredCache(t *testing.T) {
	store := newFakeCookieStore()
	expired := model.NewWafCookies("prov-1", map[string]string{"acw_tc": "stale"}, time.Now().Add(-48*time.Hour), time.Hour)
	store.entries["prov-1"] = expired
	bypass := &fakeBypass{cookies: map[string]string{"acw_tc": "fresh"}}
	manager := NewManager(store, bypass, 24*time.Hour)

	cookies, err := manager.Cookies(context.Background(), testProvider(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cookies["acw_tc"])
	assert.Equal(t, 1, bypass.calls)

	// Fresh result is cached with the configured TTL.
	saved := store.entries["prov-1"]
	require.NotNil(t, saved)
	assert.Equal(t, "fresh", saved.Cookies["acw_tc"])
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), saved.ExpiresAt, time.Minute)
}

func TestRefreshInvalidatesBeforeBypass(t *testing.T) {
	store := newFakeCookieStore()
	store.entries["prov-1"] = model.NewWafCookies("prov-1", map[string]string{"acw_tc": "old"}, time.Now(), time.Hour)
	bypass := &fakeBypass{cookies: map[string]string{"acw_sc__v2": "new"}}
	manager := NewManager(store, bypass, 24*time.Hour)

	cookies, err := manager.Refresh(context.Background(), testProvider(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "new", cookies["acw_sc__v2"])
	assert.Equal(t, []string{"prov-1"}, store.invalidated)
	assert.Equal(t, 1, bypass.calls)
}

func TestRefreshPropagatesBypassFailure(t *testing.T) {
	store := newFakeCookieStore()
	bypass := &fakeBypass{err: errors.New("browser launch failed")}
	manager := NewManager(store, bypass, 24*time.Hour)

	_, err := manager.Refresh(context.Background(), testProvider(), "acct")
	require.Error(t, err)
	assert.Nil(t, store.entries["prov-1"])
}
