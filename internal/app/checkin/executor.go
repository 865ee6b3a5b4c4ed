package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	adhttp "github.com/ohmynofan/provider-checkin-bot/internal/adapters/http"
	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository interface {
	FindAccountByID(id string) (*model.Account, error)
	FindAccountsByIDs(ids []string) (map[string]*model.Account, error)
	FindEnabledAccounts() ([]*model.Account, error)
	SaveAccount(acc *model.Account) error
}

type WafCookieSource interface {
	Cookies(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error)
	Refresh(ctx context.Context, provider *model.Provider, accountName string) (map[string]string, error)
}

type HTTPClient interface {
	Get(ctx context.Context, endpoint string, opts *adhttp.FetchOptions) (*adhttp.APIResponse, error)
}

// Executor runs one account's check-in: validation, cookie assembly,
// execution, challenge-triggered retry, post-success balance refresh.
type Executor struct {
	accounts AccountRepository
	waf      WafCookieSource
	client   HTTPClient

	// Server-side processing lag between a successful check-in and the
	// balance actually moving.
	BalanceFetchDelay time.Duration

	now func() time.Time
	log *logger.ClassLogger
}

func NewExecutor(accounts AccountRepository, waf WafCookieSource, client HTTPClient, balanceFetchDelay time.Duration) *Executor {
	e := &Executor{
		accounts:          accounts,
		waf:               waf,
		client:            client,
		BalanceFetchDelay: balanceFetchDelay,
		now:               time.Now,
	}
	e.log = logger.NewLogger(e, nil)
	return e
}

func (e *Executor) Execute(ctx context.Context, accountID string, provider *model.Provider) model.AccountCheckInResult {
	acc, err := e.accounts.FindAccountByID(accountID)
	if err != nil {
		return model.AccountCheckInResult{
			AccountID: accountID,
			Success:   false,
			Message:   fmt.Sprintf("failed to load account: %v", err),
		}
	}
	if acc == nil {
		return model.AccountCheckInResult{
			AccountID: accountID,
			Success:   false,
			Message:   ErrAccountNotFound.Error(),
		}
	}
	return e.Run(ctx, acc, provider)
}

// Run executes the check-in for an already loaded account. All failures are
// folded into the result; Run never returns an error.
func (e *Executor) Run(ctx context.Context, acc *model.Account, provider *model.Provider) model.AccountCheckInResult {
	result := model.AccountCheckInResult{
		AccountID:   acc.ID,
		AccountName: acc.DisplayName(),
	}

	if msg := e.validate(acc, provider); msg != "" {
		e.log.JustLog(fmt.Sprintf("Check-in for %s skipped: %s", acc.DisplayName(), msg))
		result.Message = msg
		return result
	}

	cookies := acc.CookieSnapshot()
	if provider.RequiresWafBypass {
		wafCookies, err := e.waf.Cookies(ctx, provider, acc.DisplayName())
		if err != nil {
			result.Message = fmt.Sprintf("waf bypass failed: %v", err)
			return result
		}
		mergeCookies(cookies, wafCookies)
	}

	run, err := e.performCheckIn(ctx, acc, provider, cookies)
	if err != nil && isChallenge(err) {
		e.log.JustLog(fmt.Sprintf("Challenge hit during check-in for %s, refreshing waf cookies", acc.DisplayName()))
		fresh, rerr := e.waf.Refresh(ctx, provider, acc.DisplayName())
		if rerr != nil {
			result.Message = fmt.Sprintf("waf refresh after challenge failed: %v", rerr)
			return result
		}
		mergeCookies(cookies, fresh)
		run, err = e.performCheckIn(ctx, acc, provider, cookies)
		if err != nil && isChallenge(err) {
			result.Message = "check-in failed: waf challenge persisted after cookie refresh"
			return result
		}
	}
	if err != nil {
		result.Message = fmt.Sprintf("check-in failed: %v", err)
		return result
	}
	if !run.Success {
		result.Message = run.Message
		return result
	}

	result.Success = true
	result.Message = run.Message

	info, err := e.refreshBalance(ctx, acc, provider, cookies)
	if err != nil {
		e.log.JustLog(fmt.Sprintf("Warning: balance refresh for %s failed, keeping previous balance: %v", acc.DisplayName(), err))
		info = acc.CachedUserInfo()
	}
	result.UserInfo = info
	e.log.LogObject(fmt.Sprintf("Check-in result for %s", acc.DisplayName()), result)
	return result
}

func (e *Executor) validate(acc *model.Account, provider *model.Provider) string {
	if !acc.Enabled {
		return "account is disabled"
	}
	if acc.CheckedInOn(e.now()) {
		return "already checked in today"
	}
	if provider == nil {
		return "provider not resolved"
	}
	if !provider.Complete() {
		return "provider configuration incomplete: domain, sign-in and user-info paths are required"
	}
	return ""
}

type checkInResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (e *Executor) performCheckIn(ctx context.Context, acc *model.Account, provider *model.Provider, cookies map[string]string) (model.CheckInResult, error) {
	switch provider.Strategy() {
	case model.CheckInStrategyPage:
		_, err := e.client.Get(ctx, provider.SignInURL(), &adhttp.FetchOptions{
			Cookies:       cookies,
			APIUserHeader: provider.APIUserHeader,
			APIUserID:     acc.APIUserID,
		})
		if err != nil {
			return model.CheckInResult{}, err
		}
		// Some providers credit the check-in as a side effect of loading
		// the signed-in page; a clean page load is success.
		return model.CheckInResult{Success: true, Message: "check-in page visited"}, nil

	default:
		res, err := e.client.Get(ctx, provider.SignInURL(), &adhttp.FetchOptions{
			Cookies:       cookies,
			APIUserHeader: provider.APIUserHeader,
			APIUserID:     acc.APIUserID,
			ExpectJSON:    true,
		})
		if err != nil {
			return model.CheckInResult{}, err
		}

		var body checkInResponse
		if err := json.Unmarshal(res.Body, &body); err != nil {
			return model.CheckInResult{}, fmt.Errorf("failed to decode check-in response: %w", err)
		}
		message := body.Message
		if message == "" {
			if body.Success {
				message = "check-in succeeded"
			} else {
				message = "check-in rejected by provider"
			}
		}
		return model.CheckInResult{Success: body.Success, Message: message}, nil
	}
}

// userInfoQuery busts CDN caches so the balance read after a check-in is
// never a stale edge copy.
type userInfoQuery struct {
	Timestamp int64 `url:"t"`
}

type userInfoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Quota     float64 `json:"quota"`
		UsedQuota float64 `json:"used_quota"`
	} `json:"data"`
}

func (e *Executor) refreshBalance(ctx context.Context, acc *model.Account, provider *model.Provider, cookies map[string]string) (*model.UserInfo, error) {
	if err := sleepCtx(ctx, e.BalanceFetchDelay); err != nil {
		return nil, err
	}
	return e.FetchUserInfo(ctx, acc, provider, cookies)
}

// FetchUserInfo reads the provider's user-info endpoint and converts the raw
// quota counters into display units.
func (e *Executor) FetchUserInfo(ctx context.Context, acc *model.Account, provider *model.Provider, cookies map[string]string) (*model.UserInfo, error) {
	res, err := e.client.Get(ctx, provider.UserInfoURL(), &adhttp.FetchOptions{
		Cookies:       cookies,
		APIUserHeader: provider.APIUserHeader,
		APIUserID:     acc.APIUserID,
		Query:         userInfoQuery{Timestamp: e.now().UnixMilli()},
		ExpectJSON:    true,
	})
	if err != nil {
		return nil, err
	}

	var body userInfoResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode user info response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("user info API error: %s", body.Message)
	}

	return &model.UserInfo{
		Quota:     model.QuotaToUnit(body.Data.Quota),
		UsedQuota: model.QuotaToUnit(body.Data.UsedQuota),
	}, nil
}

func isChallenge(err error) bool {
	var challenge *adhttp.ChallengeError
	return errors.As(err, &challenge)
}

func mergeCookies(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
