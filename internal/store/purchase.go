package store

import (
	"context"

	"iapkeeper/internal/models"
)

// PurchaseElement runs the platform purchase flow for item. A successful
// purchase is verified and reconciled before returning, so an ownership
// check right after it sees the new entitlement. Errors are always
// *models.PurchaseError and are never retried here.
func (s *Service) PurchaseElement(ctx context.Context, item models.Purchasable) (models.Purchasable, error) {
	if !s.state.StoreIsAvailable() && !s.RetryConnection(ctx) {
		return item, models.NewPurchaseError(models.PurchaseErrPlatform, ctx.Err())
	}
	if !s.state.HasProduct(item.BundleID) {
		s.logger.Errorf("store: purchase %s: product not in catalog", item.BundleID)
		return item, models.NewPurchaseError(models.PurchaseErrProductNotFound, nil)
	}

	outcome, err := s.platform.Purchase(ctx, item.BundleID)
	if err != nil {
		return item, models.NewPurchaseError(models.PurchaseErrPlatform, err)
	}

	switch outcome.Status {
	case models.PurchaseSuccess:
		txn, err := s.verifier.Verify(ctx, outcome.Transaction)
		if err != nil {
			s.logger.Errorf("store: purchase %s failed verification: %v", item.BundleID, err)
			return item, models.NewPurchaseError(models.PurchaseErrUnverified, err)
		}
		s.runPass(ctx, true)
		if err := s.platform.Finish(ctx, txn); err != nil {
			s.logger.Errorf("store: finish transaction %s: %v", txn.ID, err)
		}
		s.logger.Infof("store: purchased %s (%s)", item.BundleID, txn.ID)
		return item, nil
	case models.PurchaseUserCancelled:
		return item, models.NewPurchaseError(models.PurchaseErrUserCancelled, nil)
	case models.PurchasePending:
		return item, models.NewPurchaseError(models.PurchaseErrPending, nil)
	default:
		return item, models.NewPurchaseError(models.PurchaseErrUnknownPurchaseState, nil)
	}
}

// HandlePromotedPurchase starts a purchase initiated outside the app, such as
// a promoted in-app purchase on a store page. It returns false when the
// product is unknown or already owned.
func (s *Service) HandlePromotedPurchase(ctx context.Context, productID string) bool {
	item, ok := s.registry.Lookup(productID)
	if !ok {
		s.logger.Errorf("store: promoted purchase for unknown product %s", productID)
		return false
	}
	if s.ElementWasPurchased(ctx, item) {
		s.logger.Infof("store: promoted purchase for owned product %s ignored", productID)
		return false
	}
	started := s.spawn(func() {
		if _, err := s.PurchaseElement(s.rootCtx, item); err != nil {
			s.logger.Errorf("store: promoted purchase %s: %v", productID, err)
		}
	})
	if !started {
		s.logger.Infof("store: promoted purchase %s after close ignored", productID)
	}
	return started
}
