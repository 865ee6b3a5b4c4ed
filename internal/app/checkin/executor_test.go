package checkin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adhttp "github.com/ohmynofan/provider-checkin-bot/internal/adapters/http"
	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

type fakeAccounts struct {
	accounts map[string]*model.Account
	saved    []*model.Account
	findErr  error
}

func newFakeAccounts(accounts ...*model.Account) *fakeAccounts {
	m := map[string]*model.Account{}
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &fakeAccounts{accounts: m}
}

func (f *fakeAccounts) FindAccountByID(id string) (*model.Account, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.accounts[id], nil
}

func (f *fakeAccounts) FindAccountsByIDs(ids []string) (map[string]*model.Account, error) {
	result := map[string]*model.Account{}
	for _, id := range ids {
		if acc, ok := f.accounts[id]; ok {
			result[id] = acc
		}
	}
	return result, nil
}

func (f *fakeAccounts) FindEnabledAccounts() ([]*model.Account, error) {
	var out []*model.Account
	for _, a := range f.accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) SaveAccount(acc *model.Account) error {
	f.saved = append(f.saved, acc)
	f.accounts[acc.ID] = acc
	return nil
}

type fakeWaf struct {
	cookies        map[string]string
	cookiesErr     error
	refreshCookies map[string]string
	refreshErr     error
	cookiesCalls   int
	refreshCalls   int
}

func (f *fakeWaf) Cookies(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error) {
	f.cookiesCalls++
	return f.cookies, f.cookiesErr
}

func (f *fakeWaf) Refresh(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error) {
	f.refreshCalls++
	return f.refreshCookies, f.refreshErr
}

type fakeCall struct {
	endpoint string
	opts     *adhttp.FetchOptions
}

type fakeClient struct {
	handler func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error)
	calls   []fakeCall
}

func (f *fakeClient) Get(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
	f.calls = append(f.calls, fakeCall{endpoint: endpoint, opts: opts})
	return f.handler(len(f.calls), endpoint, opts)
}

func jsonResponse(body string) *adhttp.APIResponse {
	return &adhttp.APIResponse{StatusCode: 200, Body: []byte(body)}
}

func testAccount() *model.Account {
	return &model.Account{
		ID:         "acc-1",
		Name:       "alice",
		ProviderID: "prov-1",
		Cookies:    map[string]string{"session": "s1"},
		APIUserID:  "42",
		Enabled:    true,
	}
}

func wafProvider() *model.Provider {
	return &model.Provider{
		ID:                "prov-1",
		Name:              "testprov",
		Domain:            "https://api.example.com",
		LoginPath:         "/login",
		SignInPath:        "/api/user/check_in",
		UserInfoPath:      "/api/user/self",
		APIUserHeader:     "New-Api-User",
		RequiresWafBypass: true,
	}
}

func plainProvider() *model.Provider {
	p := wafProvider()
	p.RequiresWafBypass = false
	return p
}

func newTestExecutor(accounts AccountRepository, waf WafCookieSource, client HTTPClient) *Executor {
	e := NewExecutor(accounts, waf, client, 0)
	return e
}

func TestExecuteAccountNotFound(t *testing.T) {
	client := &fakeClient{handler: func(int, string, *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		t.Fatal("no network call expected")
		return nil, nil
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	result := executor.Execute(context.Background(), "missing", plainProvider())
	assert.False(t, result.Success)
	assert.Equal(t, "account not found", result.Message)
	assert.Equal(t, "missing", result.AccountID)
}

func TestRunValidationShortCircuits(t *testing.T) {
	client := &fakeClient{handler: func(int, string, *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		t.Fatal("no network call expected")
		return nil, nil
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	disabled := testAccount()
	disabled.Enabled = false
	result := executor.Run(context.Background(), disabled, plainProvider())
	assert.False(t, result.Success)
	assert.Equal(t, "account is disabled", result.Message)

	checkedIn := testAccount()
	checkedIn.LastCheckInAt = time.Now()
	result = executor.Run(context.Background(), checkedIn, plainProvider())
	assert.False(t, result.Success)
	assert.Equal(t, "already checked in today", result.Message)

	incomplete := plainProvider()
	incomplete.UserInfoPath = ""
	result = executor.Run(context.Background(), testAccount(), incomplete)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "provider configuration incomplete")

	assert.Empty(t, client.calls)
}

func TestRunAPIStrategySuccessWithBalanceRefresh(t *testing.T) {
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		switch endpoint {
		case "https://api.example.com/api/user/check_in":
			return jsonResponse(`{"success":true,"message":"checked in"}`), nil
		case "https://api.example.com/api/user/self":
			return jsonResponse(`{"success":true,"data":{"quota":500000,"used_quota":750000}}`), nil
		}
		t.Fatalf("unexpected endpoint %s", endpoint)
		return nil, nil
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	result := executor.Run(context.Background(), testAccount(), plainProvider())

	require.True(t, result.Success)
	assert.Equal(t, "checked in", result.Message)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 1.00, result.UserInfo.Quota)
	assert.Equal(t, 1.5, result.UserInfo.UsedQuota)
	assert.Equal(t, 2.5, result.UserInfo.Total())

	// Credentials flowed into both calls.
	for _, call := range client.calls {
		assert.Equal(t, "s1", call.opts.Cookies["session"])
		assert.Equal(t, "New-Api-User", call.opts.APIUserHeader)
		assert.Equal(t, "42", call.opts.APIUserID)
	}

	// The balance read carries a cache-busting query.
	require.Len(t, client.calls, 2)
	assert.NotNil(t, client.calls[1].opts.Query)
	assert.Nil(t, client.calls[0].opts.Query)
}

func TestRunMergesCachedWafCookies(t *testing.T) {
	waf := &fakeWaf{cookies: map[string]string{"acw_tc": "waf1"}}
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		assert.Equal(t, "waf1", opts.Cookies["acw_tc"])
		assert.Equal(t, "s1", opts.Cookies["session"])
		if call == 1 {
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		}
		return jsonResponse(`{"success":true,"data":{"quota":1000000,"used_quota":0}}`), nil
	}}
	executor := newTestExecutor(newFakeAccounts(), waf, client)

	result := executor.Run(context.Background(), testAccount(), wafProvider())

	require.True(t, result.Success)
	assert.Equal(t, 1, waf.cookiesCalls)
	assert.Equal(t, 0, waf.refreshCalls)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 2.0, result.UserInfo.Quota)
}

func TestRunChallengeTriggersSingleRefreshAndRetry(t *testing.T) {
	waf := &fakeWaf{
		cookies:        map[string]string{"acw_tc": "stale"},
		refreshCookies: map[string]string{"acw_tc": "fresh"},
	}
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		switch call {
		case 1:
			return nil, &adhttp.ChallengeError{StatusCode: 200}
		case 2:
			assert.Equal(t, "fresh", opts.Cookies["acw_tc"])
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		default:
			return jsonResponse(`{"success":true,"data":{"quota":0,"used_quota":500000}}`), nil
		}
	}}
	executor := newTestExecutor(newFakeAccounts(), waf, client)

	result := executor.Run(context.Background(), testAccount(), wafProvider())

	require.True(t, result.Success)
	assert.Equal(t, 1, waf.refreshCalls)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 1.0, result.UserInfo.UsedQuota)
}

func TestRunSecondChallengeIsTerminal(t *testing.T) {
	waf := &fakeWaf{
		cookies:        map[string]string{"acw_tc": "stale"},
		refreshCookies: map[string]string{"acw_tc": "fresh"},
	}
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		return nil, &adhttp.ChallengeError{StatusCode: 200}
	}}
	executor := newTestExecutor(newFakeAccounts(), waf, client)

	result := executor.Run(context.Background(), testAccount(), wafProvider())

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "challenge persisted")
	assert.Equal(t, 1, waf.refreshCalls)
	assert.Len(t, client.calls, 2)
}

func TestRunBalanceFetchFailureFallsBackToKnownBalance(t *testing.T) {
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		if call == 1 {
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		}
		return nil, errors.New("user info unavailable")
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	acc := testAccount()
	acc.Quota = 3.5
	acc.UsedQuota = 1.5
	result := executor.Run(context.Background(), acc, plainProvider())

	// The secondary fetch never blocks the success result.
	require.True(t, result.Success)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 3.5, result.UserInfo.Quota)
	assert.Equal(t, 1.5, result.UserInfo.UsedQuota)
}

func TestRunBalanceFetchFailureKeepsZeroBalance(t *testing.T) {
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		if call == 1 {
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		}
		return nil, errors.New("user info unavailable")
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	// A 0/0 balance is a real balance, not "unknown".
	result := executor.Run(context.Background(), testAccount(), plainProvider())

	require.True(t, result.Success)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 0.0, result.UserInfo.Quota)
	assert.Equal(t, 0.0, result.UserInfo.UsedQuota)
}

func TestRunPageStrategyTreatsPageLoadAsSuccess(t *testing.T) {
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		if call == 1 {
			assert.False(t, opts.ExpectJSON)
			return &adhttp.APIResponse{StatusCode: 200, Body: []byte(`<html>welcome back</html>`)}, nil
		}
		return jsonResponse(`{"success":true,"data":{"quota":250000,"used_quota":250000}}`), nil
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	provider := plainProvider()
	provider.CheckInStrategy = model.CheckInStrategyPage
	result := executor.Run(context.Background(), testAccount(), provider)

	require.True(t, result.Success)
	assert.Equal(t, "check-in page visited", result.Message)
	require.NotNil(t, result.UserInfo)
	assert.Equal(t, 1.0, result.UserInfo.Total())
}

func TestRunAPIRejectionIsFailure(t *testing.T) {
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		return jsonResponse(`{"success":false,"message":"already claimed"}`), nil
	}}
	executor := newTestExecutor(newFakeAccounts(), &fakeWaf{}, client)

	result := executor.Run(context.Background(), testAccount(), plainProvider())

	assert.False(t, result.Success)
	assert.Equal(t, "already claimed", result.Message)
	// No balance refresh after a rejected check-in.
	assert.Len(t, client.calls, 1)
}

func TestRunWafBypassFailureIsFailure(t *testing.T) {
	waf := &fakeWaf{cookiesErr: errors.New("bypass exhausted")}
	client := &fakeClient{handler: func(int, string, *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		t.Fatal("no network call expected")
		return nil, nil
	}}
	executor := newTestExecutor(newFakeAccounts(), waf, client)

	result := executor.Run(context.Background(), testAccount(), wafProvider())

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "waf bypass failed")
}
