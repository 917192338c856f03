package maintenance

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"skin-accounts/internal/account"
	"skin-accounts/internal/respond"
)

const maxBatchesPerRun = 200

type CounterStore interface {
	ResetRollingCounters(ctx context.Context, now int64, batchSize int) (account.ResetResult, error)
}

// ResetHandler zeroes rolling success/error counters and releases elapsed
// forced timeouts. It is mounted behind the maintenance token guard.
type ResetHandler struct {
	store     CounterStore
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

func NewResetHandler(store CounterStore, logger *zap.Logger, batchSize int) *ResetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ResetHandler{store: store, logger: logger, batchSize: batchSize, now: time.Now}
}

type resetResponse struct {
	Status  string              `json:"status"`
	Batches int                 `json:"batches"`
	Result  account.ResetResult `json:"result"`
}

func (h *ResetHandler) Handle(w http.ResponseWriter, r *http.Request) {
	now := h.now().Unix()

	var (
		total   account.ResetResult
		batches int
	)
	for batches < maxBatchesPerRun {
		result, err := h.store.ResetRollingCounters(r.Context(), now, h.batchSize)
		if err != nil {
			h.logger.Error("counter_reset_failed",
				zap.Error(err),
				zap.Int("batches", batches),
				zap.Int64("reset_accounts", total.ResetAccounts),
			)
			respond.Internal(w, r, nil, "counter_reset_failed", err, "reset failed")
			return
		}
		batches++
		total.ResetAccounts += result.ResetAccounts
		total.ClearedTimeouts += result.ClearedTimeouts
		if result.ResetAccounts < int64(h.batchSize) {
			break
		}
	}

	h.logger.Info("counter_reset_completed",
		zap.Int("batches", batches),
		zap.Int64("reset_accounts", total.ResetAccounts),
		zap.Int64("cleared_timeouts", total.ClearedTimeouts),
	)
	respond.JSON(w, http.StatusOK, resetResponse{Status: "ok", Batches: batches, Result: total})
}
