package license

import (
	"context"
	"log/slog"
	"time"

	"leasecli/internal/infrastructure"
)

// RunRenewer renews the lease once on start and then every interval until
// ctx is cancelled. Only leases that are currently valid or expired are
// renewed; the manager refuses the rest itself.
func RunRenewer(ctx context.Context, m *Manager, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	logger := infrastructure.WithComponent(m.logger, "lease_renewer")
	logger.Info("Lease renewer started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		renewOnce(ctx, m, logger)

		select {
		case <-ctx.Done():
			logger.Info("Lease renewer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func renewOnce(ctx context.Context, m *Manager, logger *slog.Logger) {
	status := m.GetStatus(ctx)
	switch status.State {
	case StateValid, StateExpired:
	default:
		logger.Debug("Skipping renewal", slog.String("state", status.State.String()))
		return
	}

	if m.RenewLease(ctx) {
		logger.Debug("Background renewal succeeded")
	}
}
