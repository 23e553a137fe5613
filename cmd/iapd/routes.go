package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	adminMiddleware := standardMiddleware.Append(app.requireAdmin)

	mux := pat.New()

	// Store
	mux.Get("/status", standardMiddleware.ThenFunc(app.status))
	mux.Get("/products", standardMiddleware.ThenFunc(app.listProducts))
	mux.Post("/sync", standardMiddleware.ThenFunc(app.sync))
	mux.Post("/restore", standardMiddleware.ThenFunc(app.restore))

	// Entitlements
	mux.Get("/entitlements", standardMiddleware.ThenFunc(app.listEntitlements))
	mux.Get("/entitlements/:id", standardMiddleware.ThenFunc(app.entitlement))
	mux.Get("/subscriptions/:id", standardMiddleware.ThenFunc(app.subscription))

	// Purchases
	mux.Post("/purchases/:id", standardMiddleware.ThenFunc(app.purchase))
	mux.Post("/promoted/:id", standardMiddleware.ThenFunc(app.promoted))

	// Prices
	mux.Get("/prices/total", standardMiddleware.ThenFunc(app.totalPrice))
	mux.Get("/prices/compare", standardMiddleware.ThenFunc(app.comparePrice))
	mux.Get("/prices/savings", standardMiddleware.ThenFunc(app.subscriptionSavings))
	mux.Get("/prices/:id", standardMiddleware.ThenFunc(app.price))

	// Store notifications
	mux.Post("/notifications/appstore", standardMiddleware.ThenFunc(app.appStoreNotification))
	mux.Post("/notifications/googleplay", standardMiddleware.ThenFunc(app.googlePlayNotification))
	mux.Post("/googleplay/purchases", standardMiddleware.ThenFunc(app.trackPlayPurchase))

	// Events
	mux.Get("/ws", http.HandlerFunc(app.hub.ServeWS))

	// Operator
	mux.Post("/admin/reset", adminMiddleware.ThenFunc(app.resetSnapshot))
	mux.Post("/admin/sandbox/reachable", adminMiddleware.ThenFunc(app.sandboxReachable))
	mux.Post("/admin/sandbox/revoke/:id", adminMiddleware.ThenFunc(app.sandboxRevoke))

	return mux
}
