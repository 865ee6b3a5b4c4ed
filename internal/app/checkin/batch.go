package checkin

import (
	"context"
	"fmt"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
)

// BatchExecutor walks a list of account ids sequentially, pre-loading all
// accounts in one query. One account's failure never aborts the batch.
type BatchExecutor struct {
	executor *Executor
	accounts AccountRepository
	log      *logger.ClassLogger
}

func NewBatchExecutor(executor *Executor, accounts AccountRepository) *BatchExecutor {
	b := &BatchExecutor{
		executor: executor,
		accounts: accounts,
	}
	b.log = logger.NewLogger(b, nil)
	return b
}

// ExecuteAll preserves input order in the results slice; every id gets an
// entry even when the account or provider is missing.
func (b *BatchExecutor) ExecuteAll(ctx context.Context, accountIDs []string, providers map[string]*model.Provider) model.BatchCheckInResult {
	batch := model.BatchCheckInResult{
		Total:   len(accountIDs),
		Results: make([]model.AccountCheckInResult, 0, len(accountIDs)),
	}

	preloaded, err := b.accounts.FindAccountsByIDs(accountIDs)
	if err != nil {
		b.log.JustLog(fmt.Sprintf("Batch account preload failed: %v", err))
		preloaded = map[string]*model.Account{}
	}

	for _, id := range accountIDs {
		result := b.runOne(ctx, id, preloaded, providers)
		if result.Success {
			batch.SuccessCount++
		} else {
			batch.FailedCount++
		}
		batch.Results = append(batch.Results, result)
	}

	b.log.JustLog(fmt.Sprintf("Batch check-in done: %d/%d succeeded", batch.SuccessCount, batch.Total))
	return batch
}

func (b *BatchExecutor) runOne(ctx context.Context, id string, accounts map[string]*model.Account, providers map[string]*model.Provider) (result model.AccountCheckInResult) {
	defer func() {
		if r := recover(); r != nil {
			b.log.JustLog(fmt.Sprintf("Check-in for %s panicked: %v", id, r))
			result = model.AccountCheckInResult{
				AccountID: id,
				Success:   false,
				Message:   fmt.Sprintf("check-in aborted: %v", r),
			}
		}
	}()

	acc, ok := accounts[id]
	if !ok || acc == nil {
		return model.AccountCheckInResult{
			AccountID: id,
			Success:   false,
			Message:   ErrAccountNotFound.Error(),
		}
	}

	provider, ok := providers[acc.ProviderID]
	if !ok || provider == nil {
		return model.AccountCheckInResult{
			AccountID:   id,
			AccountName: acc.DisplayName(),
			Success:     false,
			Message:     fmt.Sprintf("provider %s not found", acc.ProviderID),
		}
	}

	return b.executor.Run(ctx, acc, provider)
}
