package main

import (
	"context"
	"time"

	"iapkeeper/internal/store"
)

const resyncTimeout = time.Minute

type resyncLogger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// startResyncWorker reconciles on a fixed interval so subscriptions that
// lapse without any platform event still drop out of the live set.
func startResyncWorker(ctx context.Context, svc *store.Service, interval time.Duration, logger resyncLogger) {
	if svc == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
			defer cancel()
			if !svc.StoreIsAvailable() {
				svc.RetryConnection(runCtx)
				return
			}
			if !svc.Reconcile(runCtx) {
				logger.Infof("resync: pass already running, skipped")
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}
