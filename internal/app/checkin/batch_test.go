package checkin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adhttp "github.com/ohmynofan/provider-checkin-bot/internal/adapters/http"
	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

func TestExecuteAllMixedOutcomes(t *testing.T) {
	ok := testAccount()
	disabled := testAccount()
	disabled.ID = "acc-2"
	disabled.Name = "bob"
	disabled.Enabled = false
	orphan := testAccount()
	orphan.ID = "acc-3"
	orphan.Name = "carol"
	orphan.ProviderID = "prov-gone"

	repo := newFakeAccounts(ok, disabled, orphan)
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		if endpoint == "https://api.example.com/api/user/check_in" {
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		}
		return jsonResponse(`{"success":true,"data":{"quota":500000,"used_quota":0}}`), nil
	}}
	executor := newTestExecutor(repo, &fakeWaf{}, client)
	batch := NewBatchExecutor(executor, repo)

	ids := []string{"acc-1", "acc-2", "acc-missing", "acc-3"}
	providers := map[string]*model.Provider{"prov-1": plainProvider()}
	result := batch.ExecuteAll(context.Background(), ids, providers)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 3, result.FailedCount)
	assert.Equal(t, result.Total, result.SuccessCount+result.FailedCount)
	require.Len(t, result.Results, 4)

	// Results come back in input order, one entry per id.
	assert.Equal(t, "acc-1", result.Results[0].AccountID)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, "acc-2", result.Results[1].AccountID)
	assert.Equal(t, "account is disabled", result.Results[1].Message)
	assert.Equal(t, "acc-missing", result.Results[2].AccountID)
	assert.Equal(t, "account not found", result.Results[2].Message)
	assert.Equal(t, "acc-3", result.Results[3].AccountID)
	assert.Equal(t, "provider prov-gone not found", result.Results[3].Message)
}

func TestExecuteAllEmptyInput(t *testing.T) {
	repo := newFakeAccounts()
	client := &fakeClient{handler: func(int, string, *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		t.Fatal("no network call expected")
		return nil, nil
	}}
	batch := NewBatchExecutor(newTestExecutor(repo, &fakeWaf{}, client), repo)

	result := batch.ExecuteAll(context.Background(), nil, nil)

	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Empty(t, result.Results)
}

func TestExecuteAllContinuesAfterFailures(t *testing.T) {
	first := testAccount()
	second := testAccount()
	second.ID = "acc-2"
	second.Name = "bob"

	repo := newFakeAccounts(first, second)
	client := &fakeClient{handler: func(call int, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error) {
		if opts != nil && opts.APIUserID == "42" && endpoint == "https://api.example.com/api/user/check_in" && call == 1 {
			return jsonResponse(`{"success":false,"message":"temporarily unavailable"}`), nil
		}
		if endpoint == "https://api.example.com/api/user/check_in" {
			return jsonResponse(`{"success":true,"message":"ok"}`), nil
		}
		return jsonResponse(`{"success":true,"data":{"quota":500000,"used_quota":0}}`), nil
	}}
	batch := NewBatchExecutor(newTestExecutor(repo, &fakeWaf{}, client), repo)

	result := batch.ExecuteAll(context.Background(), []string{"acc-1", "acc-2"}, map[string]*model.Provider{"prov-1": plainProvider()})

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, "temporarily unavailable", result.Results[0].Message)
	assert.True(t, result.Results[1].Success)
}
