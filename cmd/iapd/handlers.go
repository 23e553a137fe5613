package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iapkeeper/internal/models"
)

type statusResponse struct {
	Availability models.StoreAvailability `json:"availability"`
	Available    bool                     `json:"available"`
	Syncing      bool                     `json:"syncing"`
	Passes       int64                    `json:"passes"`
	DataChanged  bool                     `json:"data_changed"`
	Purchased    []string                 `json:"purchased"`
}

func (app *application) status(w http.ResponseWriter, r *http.Request) {
	snap := app.svc.Snapshot()
	ids := make([]string, 0, len(snap.Purchased))
	for _, p := range snap.Purchased {
		ids = append(ids, p.ID)
	}
	app.writeJSON(w, http.StatusOK, statusResponse{
		Availability: snap.Availability,
		Available:    app.svc.StoreIsAvailable(),
		Syncing:      snap.Syncing,
		Passes:       app.svc.Passes(),
		DataChanged:  app.svc.DataChanged(),
		Purchased:    ids,
	})
}

type productResponse struct {
	models.Product
	Formatted string `json:"formatted_price,omitempty"`
	Purchased bool   `json:"purchased"`
}

func (app *application) listProducts(w http.ResponseWriter, r *http.Request) {
	out := make([]productResponse, 0)
	for _, p := range app.svc.Products() {
		item := models.Purchasable{BundleID: p.ID, Kind: p.Kind}
		formatted, _ := app.svc.GetPriceFormatted(item)
		out = append(out, productResponse{
			Product:   p,
			Formatted: formatted,
			Purchased: app.svc.ElementWasPurchased(r.Context(), item),
		})
	}
	app.writeJSON(w, http.StatusOK, out)
}

func (app *application) sync(w http.ResponseWriter, r *http.Request) {
	ran := app.svc.RetryConnection(r.Context())
	app.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ran":          ran,
		"availability": app.svc.Availability(),
	})
}

func (app *application) restore(w http.ResponseWriter, r *http.Request) {
	ok := app.svc.RestorePurchases(r.Context())
	app.writeJSON(w, http.StatusOK, map[string]bool{"restored": ok})
}

// lookup resolves the :id route parameter against the registry.
func (app *application) lookup(w http.ResponseWriter, r *http.Request) (models.Purchasable, bool) {
	id := r.URL.Query().Get(":id")
	item, ok := app.svc.Registry().Lookup(id)
	if !ok {
		app.clientError(w, http.StatusNotFound, "unknown product "+id)
	}
	return item, ok
}

func (app *application) listEntitlements(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]bool)
	for _, item := range app.svc.Registry().All() {
		out[item.BundleID] = app.svc.ElementWasPurchased(r.Context(), item)
	}
	app.writeJSON(w, http.StatusOK, out)
}

func (app *application) entitlement(w http.ResponseWriter, r *http.Request) {
	item, ok := app.lookup(w, r)
	if !ok {
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        item.BundleID,
		"kind":      item.Kind,
		"purchased": app.svc.ElementWasPurchased(r.Context(), item),
	})
}

type subscriptionResponse struct {
	ID         string                    `json:"id"`
	Status     models.SubscriptionStatus `json:"status"`
	Active     bool                      `json:"active"`
	Info       *models.SubscriptionInfo  `json:"info,omitempty"`
	Remaining  string                    `json:"remaining,omitempty"`
	Expiration *time.Time                `json:"expiration,omitempty"`
}

func (app *application) subscription(w http.ResponseWriter, r *http.Request) {
	item, ok := app.lookup(w, r)
	if !ok {
		return
	}
	if !item.Kind.IsSubscription() {
		app.clientError(w, http.StatusBadRequest, item.BundleID+" is not a subscription")
		return
	}
	ctx := r.Context()
	resp := subscriptionResponse{
		ID:     item.BundleID,
		Status: app.svc.GetSubscriptionStatus(ctx, item),
		Active: app.svc.IsSubscriptionActive(ctx, item),
	}
	if info, ok := app.svc.GetSubscriptionInfo(ctx, item); ok {
		resp.Info = &info
	}
	if d, ok := app.svc.GetSubscriptionTimeRemaining(ctx, item); ok {
		resp.Remaining = d.Round(time.Second).String()
	}
	if exp, ok := app.svc.GetSubscriptionExpirationDate(ctx, item); ok {
		resp.Expiration = &exp
	}
	app.writeJSON(w, http.StatusOK, resp)
}

func purchaseStatus(code models.PurchaseErrorCode) int {
	switch code {
	case models.PurchaseErrProductNotFound:
		return http.StatusNotFound
	case models.PurchaseErrUserCancelled:
		return http.StatusConflict
	case models.PurchaseErrPending:
		return http.StatusAccepted
	case models.PurchaseErrUnverified:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (app *application) purchase(w http.ResponseWriter, r *http.Request) {
	item, ok := app.lookup(w, r)
	if !ok {
		return
	}
	if _, err := app.svc.PurchaseElement(r.Context(), item); err != nil {
		var perr *models.PurchaseError
		if errors.As(err, &perr) {
			app.writeJSON(w, purchaseStatus(perr.Code), map[string]string{
				"error": err.Error(),
				"code":  string(perr.Code),
			})
			return
		}
		app.serverError(w, err)
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]interface{}{"id": item.BundleID, "purchased": true})
}

func (app *application) promoted(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(":id")
	started := app.svc.HandlePromotedPurchase(r.Context(), id)
	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	app.writeJSON(w, status, map[string]bool{"started": started})
}

// items resolves a comma separated id list from query parameter name.
func (app *application) items(w http.ResponseWriter, r *http.Request, name string) ([]models.Purchasable, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		app.clientError(w, http.StatusBadRequest, "missing "+name)
		return nil, false
	}
	var out []models.Purchasable
	for _, id := range strings.Split(raw, ",") {
		item, ok := app.svc.Registry().Lookup(strings.TrimSpace(id))
		if !ok {
			app.clientError(w, http.StatusNotFound, "unknown product "+id)
			return nil, false
		}
		out = append(out, item)
	}
	return out, true
}

func (app *application) price(w http.ResponseWriter, r *http.Request) {
	item, ok := app.lookup(w, r)
	if !ok {
		return
	}
	var (
		price string
		found bool
	)
	if by := r.URL.Query().Get("divided_by"); by != "" {
		n, err := strconv.Atoi(by)
		if err != nil || n <= 0 {
			app.clientError(w, http.StatusBadRequest, "divided_by must be a positive integer")
			return
		}
		price, found = app.svc.GetDividedPrice(item, n)
	} else {
		price, found = app.svc.GetPriceFormatted(item)
	}
	if !found {
		app.clientError(w, http.StatusNotFound, "price unavailable")
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]string{"id": item.BundleID, "price": price})
}

func (app *application) totalPrice(w http.ResponseWriter, r *http.Request) {
	items, ok := app.items(w, r, "ids")
	if !ok {
		return
	}
	total, found := app.svc.GetTotalPrice(items)
	if !found {
		app.clientError(w, http.StatusNotFound, "price unavailable")
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]string{"total": total})
}

func (app *application) comparePrice(w http.ResponseWriter, r *http.Request) {
	items, ok := app.items(w, r, "ids")
	if !ok {
		return
	}
	with, ok := app.items(w, r, "with")
	if !ok {
		return
	}
	diff, pct, found := app.svc.ComparePrice(items, with[0])
	if !found {
		app.clientError(w, http.StatusNotFound, "price unavailable")
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]string{"difference": diff, "percentage": pct})
}

func (app *application) subscriptionSavings(w http.ResponseWriter, r *http.Request) {
	pair, ok := app.items(w, r, "ids")
	if !ok {
		return
	}
	if len(pair) != 2 {
		app.clientError(w, http.StatusBadRequest, "ids must name two subscriptions")
		return
	}
	a := models.SubscriptionItem{Purchasable: pair[0], Period: app.periods[pair[0].BundleID]}
	b := models.SubscriptionItem{Purchasable: pair[1], Period: app.periods[pair[1].BundleID]}
	savings, found := app.svc.CompareSubscriptionSavings(a, b)
	if !found {
		app.clientError(w, http.StatusNotFound, "savings unavailable")
		return
	}
	app.writeJSON(w, http.StatusOK, map[string]string{"savings": savings})
}

func (app *application) resetSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := app.local.Reset(r.Context()); err != nil {
		app.serverError(w, err)
		return
	}
	ran := app.svc.Reconcile(r.Context())
	app.writeJSON(w, http.StatusOK, map[string]bool{"reset": true, "reconciled": ran})
}

func (app *application) sandboxReachable(w http.ResponseWriter, r *http.Request) {
	if app.sandbox == nil {
		app.clientError(w, http.StatusNotFound, "sandbox platform is not active")
		return
	}
	up, err := strconv.ParseBool(r.URL.Query().Get("up"))
	if err != nil {
		app.clientError(w, http.StatusBadRequest, "up must be a boolean")
		return
	}
	app.sandbox.SetReachable(up)
	app.writeJSON(w, http.StatusOK, map[string]bool{"reachable": up})
}

func (app *application) sandboxRevoke(w http.ResponseWriter, r *http.Request) {
	if app.sandbox == nil {
		app.clientError(w, http.StatusNotFound, "sandbox platform is not active")
		return
	}
	id := r.URL.Query().Get(":id")
	if !app.sandbox.Revoke(id, time.Now()) {
		app.clientError(w, http.StatusNotFound, "no transaction for "+id)
		return
	}
	ran := app.svc.Reconcile(r.Context())
	app.writeJSON(w, http.StatusOK, map[string]bool{"revoked": true, "reconciled": ran})
}
