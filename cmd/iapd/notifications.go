package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"iapkeeper/internal/journal"
	"iapkeeper/internal/models"
	"iapkeeper/internal/platform/appstore"
	"iapkeeper/internal/platform/googleplay"
)

const maxNotificationBody = 1 << 20

// appStoreNotification receives App Store Server Notifications V2 and
// journals them. Redeliveries are answered with recorded=false.
func (app *application) appStoreNotification(w http.ResponseWriter, r *http.Request) {
	if app.appStore == nil {
		app.clientError(w, http.StatusNotFound, "appstore platform is not active")
		return
	}
	var body struct {
		SignedPayload string `json:"signedPayload"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxNotificationBody)).Decode(&body); err != nil {
		app.clientError(w, http.StatusBadRequest, "invalid body")
		return
	}

	n, err := app.appStore.HandleNotification(r.Context(), body.SignedPayload)
	if err != nil {
		if errors.Is(err, models.ErrUnverified) {
			app.clientError(w, http.StatusUnauthorized, err.Error())
			return
		}
		app.serverError(w, err)
		return
	}

	entry := journal.Entry{
		NotificationID: n.NotificationUUID,
		Source:         appstore.Source,
		Type:           strings.TrimSuffix(n.NotificationType+"."+n.Subtype, "."),
		Environment:    n.Data.Environment,
		Raw:            body.SignedPayload,
	}
	if n.Data.SignedTransactionInfo != "" {
		if txn, err := app.appStore.Verify(r.Context(), models.SignedTransaction{Source: appstore.Source, Payload: n.Data.SignedTransactionInfo}); err == nil {
			entry.TransactionID = txn.ID
			entry.OriginalID = txn.OriginalID
			entry.ProductID = txn.ProductID
		}
	}
	app.record(w, r, entry)
}

// googlePlayNotification receives Real-time Developer Notifications pushed
// by Pub/Sub.
func (app *application) googlePlayNotification(w http.ResponseWriter, r *http.Request) {
	if app.play == nil {
		app.clientError(w, http.StatusNotFound, "googleplay platform is not active")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		app.clientError(w, http.StatusBadRequest, "invalid body")
		return
	}
	n, err := app.play.HandlePush(data)
	if err != nil {
		app.clientError(w, http.StatusBadRequest, err.Error())
		return
	}
	var msg googleplay.PushMessage
	_ = json.Unmarshal(data, &msg)

	entry := journal.Entry{
		NotificationID: msg.Message.MessageID,
		Source:         googleplay.Source,
		Raw:            string(data),
	}
	switch {
	case n.SubscriptionNotification != nil:
		entry.Type = fmt.Sprintf("subscription.%d", n.SubscriptionNotification.NotificationType)
		entry.OriginalID = n.SubscriptionNotification.PurchaseToken
		entry.ProductID = n.SubscriptionNotification.SubscriptionID
	case n.OneTimeProductNotification != nil:
		entry.Type = fmt.Sprintf("product.%d", n.OneTimeProductNotification.NotificationType)
		entry.OriginalID = n.OneTimeProductNotification.PurchaseToken
		entry.ProductID = n.OneTimeProductNotification.SKU
	default:
		entry.Type = "test"
	}
	app.record(w, r, entry)
}

// trackPlayPurchase lets the device report a fresh purchase token.
func (app *application) trackPlayPurchase(w http.ResponseWriter, r *http.Request) {
	if app.play == nil {
		app.clientError(w, http.StatusNotFound, "googleplay platform is not active")
		return
	}
	var ref googleplay.Ref
	if err := json.NewDecoder(io.LimitReader(r.Body, maxNotificationBody)).Decode(&ref); err != nil {
		app.clientError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if ref.ProductID == "" || ref.PurchaseToken == "" {
		app.clientError(w, http.StatusBadRequest, "productId and purchaseToken are required")
		return
	}
	if ref.Kind == "" {
		ref.Kind = "product"
		if item, ok := app.svc.Registry().Lookup(ref.ProductID); ok && item.Kind == models.KindAutoRenewableSubscription {
			ref.Kind = "subscription"
		}
	}
	app.play.Track(ref)
	app.writeJSON(w, http.StatusAccepted, map[string]bool{"tracked": true})
}

func (app *application) record(w http.ResponseWriter, r *http.Request, e journal.Entry) {
	if e.NotificationID == "" {
		app.writeJSON(w, http.StatusOK, map[string]bool{"recorded": false})
		return
	}
	fresh, err := app.journal.Record(r.Context(), e)
	if err != nil {
		app.serverError(w, err)
		return
	}
	if !fresh {
		app.logger.Infof("duplicate notification %s from %s", e.NotificationID, e.Source)
	}
	app.writeJSON(w, http.StatusOK, map[string]bool{"recorded": fresh})
}
