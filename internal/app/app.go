package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ohmynofan/provider-checkin-bot/internal/adapters/browser"
	adhttp "github.com/ohmynofan/provider-checkin-bot/internal/adapters/http"
	"github.com/ohmynofan/provider-checkin-bot/internal/app/checkin"
	"github.com/ohmynofan/provider-checkin-bot/internal/app/scheduler"
	"github.com/ohmynofan/provider-checkin-bot/internal/app/waf"
	"github.com/ohmynofan/provider-checkin-bot/internal/config"
	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
	"github.com/ohmynofan/provider-checkin-bot/internal/storage/store"
)

type App struct{ cfg config.Config }

func New(cfg config.Config) *App { return &App{cfg: cfg} }

func (app *App) Run() error {
	st, err := store.NewStore(app.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := app.seed(st); err != nil {
		return err
	}

	retry := adhttp.RetryPolicy{
		MaxRetries:   app.cfg.MaxRetries,
		InitialDelay: app.cfg.RetryInitialDelay,
		Multiplier:   app.cfg.RetryMultiplier,
		MaxDelay:     app.cfg.RetryMaxDelay,
	}
	client, err := adhttp.NewAPIClient("", retry)
	if err != nil {
		return err
	}

	bypass := browser.NewService(app.cfg.ChallengeWait, app.cfg.BrowserCloseWait, app.cfg.BypassAttempts, app.cfg.BypassRetryGap)
	wafManager := waf.NewManager(st, bypass, app.cfg.WafCookieTTL)
	executor := checkin.NewExecutor(st, wafManager, client, app.cfg.BalanceFetchDelay)
	sched := scheduler.NewScheduler(executor, st, app.cfg.HealthCheckEvery, app.cfg.StaleTaskThreshold)

	providers, err := st.FindAllProviders()
	if err != nil {
		return err
	}
	providerMap := make(map[string]*model.Provider, len(providers))
	for _, p := range providers {
		providerMap[p.ID] = p
	}

	if err := sched.ReloadSchedules(providerMap); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sched.StopAllTasks()
	return nil
}

func (app *App) seed(st *store.Store) error {
	providers, err := app.cfg.LoadProviders()
	if err != nil {
		return fmt.Errorf("failed to load provider seed: %w", err)
	}
	for _, p := range providers {
		if err := st.SaveProvider(p); err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", p.Name, err)
		}
	}

	accounts, err := app.cfg.LoadAccounts()
	if err != nil {
		return fmt.Errorf("failed to load account seed: %w", err)
	}
	for _, a := range accounts {
		if err := st.SaveAccount(a); err != nil {
			return fmt.Errorf("failed to seed account %s: %w", a.DisplayName(), err)
		}
	}
	return nil
}
