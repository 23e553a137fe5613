package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"iapkeeper/internal/localstore"
	"iapkeeper/internal/models"
)

// passResult accumulates one reconciliation pass.
type passResult struct {
	products map[string]models.Product
	ids      map[string]struct{}
	subs     map[string]models.SubscriptionInfo
}

func newPassResult() *passResult {
	return &passResult{
		products: make(map[string]models.Product),
		ids:      make(map[string]struct{}),
		subs:     make(map[string]models.SubscriptionInfo),
	}
}

func (r *passResult) own(p models.Product) {
	r.products[p.ID] = p
	r.ids[p.ID] = struct{}{}
}

// recordSubscription keeps the snapshot with the latest expiration when a
// product shows up more than once.
func (r *passResult) recordSubscription(info models.SubscriptionInfo) {
	if prev, ok := r.subs[info.ProductID]; ok && prev.ExpirationDate.After(info.ExpirationDate) {
		return
	}
	r.subs[info.ProductID] = info
}

func (r *passResult) purchased() []models.Product {
	out := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *passResult) purchasedIDs() []string {
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// reconcile walks the current entitlements, replaces the in-memory purchased
// set and persists whatever differs from the stored snapshot. The caller
// holds the sync guard.
func (s *Service) reconcile(ctx context.Context) {
	s.passes.Add(1)
	s.changed.Store(false)

	signed, err := s.platform.CurrentEntitlements(ctx)
	if err != nil {
		s.logger.Errorf("store: load current entitlements: %v", err)
		s.setAvailability(models.StoreUnavailable)
		return
	}

	now := s.now()
	res := newPassResult()
	for _, st := range signed {
		txn, err := s.verifier.Verify(ctx, st)
		if err != nil {
			s.logger.Errorf("store: discarding unverified transaction from %s: %v", st.Source, err)
			continue
		}
		s.classify(txn, now, res)
	}

	s.state.SetPurchasedProducts(res.purchased(), res.subs)

	ids := res.purchasedIDs()
	changed := false
	if !localstore.SameIDs(ids, s.local.PurchasedProductIDs(ctx)) {
		if err := s.local.StorePurchasedProductIDs(ctx, ids); err != nil {
			s.logger.Errorf("store: persist purchased ids: %v", err)
		}
		changed = true
	}

	if len(res.subs) > 0 {
		prev := s.local.SubscriptionData(ctx).Subscriptions
		if !localstore.SameSubscriptions(prev, res.subs) {
			changed = true
		}
		if err := s.local.StoreSubscriptions(ctx, res.subs); err != nil {
			s.logger.Errorf("store: persist subscriptions: %v", err)
		}
	}

	if changed {
		s.changed.Store(true)
		s.events.publish(EntitlementsChanged{ID: uuid.New(), ProductIDs: ids, At: now})
	}

	if s.state.IsEmpty() {
		s.setAvailability(models.StoreUnavailable)
	} else {
		s.setAvailability(models.StoreAvailable)
	}
}

func (s *Service) classify(txn models.Transaction, now time.Time, res *passResult) {
	switch txn.Kind {
	case models.KindNonConsumable:
		if txn.Revoked() {
			s.logger.Infof("store: %s was revoked", txn.ProductID)
			return
		}
		if p, ok := s.state.Product(txn.ProductID); ok {
			res.products[p.ID] = p
		}
		if s.registry.Exists(txn.ProductID) {
			res.ids[txn.ProductID] = struct{}{}
		}

	case models.KindAutoRenewableSubscription:
		if !s.registry.Exists(txn.ProductID) {
			s.logger.Errorf("store: skipping subscription %s unknown to the registry", txn.ProductID)
			return
		}
		if txn.ExpirationDate == nil {
			s.logger.Errorf("store: skipping subscription %s without expiration date", txn.ProductID)
			return
		}
		info := subscriptionInfo(txn, *txn.ExpirationDate)
		if txn.Revoked() {
			res.recordSubscription(info)
			return
		}
		info.IsActive = true
		res.recordSubscription(info)
		res.own(s.liveProduct(txn))

	case models.KindNonRenewableSubscription:
		if !s.registry.Exists(txn.ProductID) {
			s.logger.Errorf("store: skipping subscription %s unknown to the registry", txn.ProductID)
			return
		}
		exp := txn.PurchaseDate.Add(s.cfg.NonRenewableDuration)
		if txn.ExpirationDate != nil {
			exp = *txn.ExpirationDate
		}
		info := subscriptionInfo(txn, exp)
		info.IsActive = !txn.Revoked() && exp.After(now)
		res.recordSubscription(info)
		if info.IsActive {
			res.own(s.liveProduct(txn))
		}

	case models.KindConsumable:
		s.logger.Infof("store: processed consumable %s (%s)", txn.ProductID, txn.ID)

	default:
		s.logger.Errorf("store: transaction %s has unknown product kind %q", txn.ID, txn.Kind)
	}
}

// liveProduct returns the catalog entry, or a stub built from the registry
// when the catalog could not be loaded.
func (s *Service) liveProduct(txn models.Transaction) models.Product {
	if p, ok := s.state.Product(txn.ProductID); ok {
		return p
	}
	return models.Product{ID: txn.ProductID, Kind: txn.Kind}
}

func subscriptionInfo(txn models.Transaction, exp time.Time) models.SubscriptionInfo {
	return models.SubscriptionInfo{
		ProductID:                 txn.ProductID,
		ExpirationDate:            exp,
		RenewalDate:               txn.RenewalDate,
		GracePeriodExpirationDate: txn.GracePeriodExpirationDate,
		SubscriptionGroupID:       txn.SubscriptionGroupID,
		RevocationDate:            txn.RevocationDate,
		InBillingRetry:            txn.InBillingRetry,
	}
}
