package store

import (
	"context"
	"time"

	"iapkeeper/internal/models"
)

func (s *Service) requireSubscription(item models.Purchasable) bool {
	if item.Kind.IsSubscription() {
		return true
	}
	s.logger.Errorf("store: %s: %v", item.BundleID, models.ErrNotSubscription)
	return false
}

// IsSubscriptionActive is ElementWasPurchased restricted to subscriptions.
func (s *Service) IsSubscriptionActive(ctx context.Context, item models.Purchasable) bool {
	if !s.requireSubscription(item) {
		return false
	}
	return s.ElementWasPurchased(ctx, item)
}

func (s *Service) GetSubscriptionStatus(ctx context.Context, item models.Purchasable) models.SubscriptionStatus {
	if !s.requireSubscription(item) {
		return models.SubscriptionUnknown
	}
	now := s.now()
	if s.state.StoreIsAvailable() && s.state.IsPurchased(item.BundleID) {
		if item.Kind != models.KindNonRenewableSubscription || s.nonRenewableValid(ctx, item.BundleID, now) {
			return models.SubscriptionActive
		}
	}
	info, ok := s.local.SubscriptionInfo(ctx, item.BundleID)
	if !ok {
		info, ok = s.state.Subscription(item.BundleID)
	}
	if !ok {
		return models.SubscriptionUnknown
	}
	return info.Status(now)
}

// GetSubscriptionInfo returns the persisted snapshot for item.
func (s *Service) GetSubscriptionInfo(ctx context.Context, item models.Purchasable) (models.SubscriptionInfo, bool) {
	if !s.requireSubscription(item) {
		return models.SubscriptionInfo{}, false
	}
	return s.local.SubscriptionInfo(ctx, item.BundleID)
}

// GetSubscriptionTimeRemaining returns the time until expiration, or false
// when there is no record or the subscription already expired.
func (s *Service) GetSubscriptionTimeRemaining(ctx context.Context, item models.Purchasable) (time.Duration, bool) {
	info, ok := s.GetSubscriptionInfo(ctx, item)
	if !ok {
		return 0, false
	}
	return info.Remaining(s.now())
}

func (s *Service) GetSubscriptionExpirationDate(ctx context.Context, item models.Purchasable) (time.Time, bool) {
	info, ok := s.GetSubscriptionInfo(ctx, item)
	if !ok {
		return time.Time{}, false
	}
	return info.ExpirationDate, true
}
