package store

import (
	"context"
	"time"

	"golang.org/x/exp/slices"

	"iapkeeper/internal/models"
)

// ElementWasPurchased reports whether the user owns item. Consumables are
// never owned. While the live store is available the answer comes from the
// last pass; otherwise it comes from the persisted snapshot.
func (s *Service) ElementWasPurchased(ctx context.Context, item models.Purchasable) bool {
	if item.Kind == models.KindConsumable {
		return false
	}
	now := s.now()

	if s.state.StoreIsAvailable() {
		if !s.state.IsPurchased(item.BundleID) {
			return false
		}
		if item.Kind == models.KindNonRenewableSubscription {
			return s.nonRenewableValid(ctx, item.BundleID, now)
		}
		return true
	}

	switch item.Kind {
	case models.KindNonConsumable:
		return slices.Contains(s.local.PurchasedProductIDs(ctx), item.BundleID)
	case models.KindAutoRenewableSubscription, models.KindNonRenewableSubscription:
		info, ok := s.local.SubscriptionInfo(ctx, item.BundleID)
		return ok && info.IsLive(now)
	}
	return false
}

// nonRenewableValid rechecks the expiration of a non-renewable subscription
// the live set reports as purchased.
func (s *Service) nonRenewableValid(ctx context.Context, id string, now time.Time) bool {
	info, ok := s.state.Subscription(id)
	if !ok {
		info, ok = s.local.SubscriptionInfo(ctx, id)
	}
	return ok && info.IsLive(now)
}

// RestorePurchases asks the platform to refresh its ledger and reconciles.
func (s *Service) RestorePurchases(ctx context.Context) bool {
	if err := s.platform.Sync(ctx); err != nil {
		s.logger.Errorf("store: restore purchases: %v", err)
		return false
	}
	return s.runPass(ctx, true)
}
