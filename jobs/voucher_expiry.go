package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// VoucherCanceller cancels stale pending vouchers. Satisfied by the ledger
// service.
type VoucherCanceller interface {
	CancelExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// NewVoucherExpiryHandler builds the expiry sweep handler.
func NewVoucherExpiryHandler(logger *slog.Logger, canceller VoucherCanceller) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VoucherExpiryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.TTL <= 0 {
			return asynq.SkipRetry
		}
		cancelled, err := canceller.CancelExpired(ctx, payload.TTL)
		if err != nil {
			logger.Error("voucher expiry sweep failed", "error", err)
			return err
		}
		if cancelled > 0 {
			logger.Info("voucher expiry sweep", "cancelled", cancelled, "ttl", payload.TTL.String())
		}
		return nil
	}
}
