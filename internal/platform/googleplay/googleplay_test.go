package googleplay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"iapkeeper/internal/models"
)

const pkg = "com.example.app"

type testLogger struct{ t *testing.T }

func (l testLogger) Infof(format string, args ...interface{})  { l.t.Logf(format, args...) }
func (l testLogger) Errorf(format string, args ...interface{}) { l.t.Logf(format, args...) }

var catalog = []models.Product{
	{ID: "superpack", Kind: models.KindNonConsumable},
	{ID: "coins", Kind: models.KindConsumable},
	{ID: "season", Kind: models.KindNonRenewableSubscription},
	{ID: "weekly", Kind: models.KindAutoRenewableSubscription},
}

type playAPI struct {
	mu    sync.Mutex
	posts []string
}

func (a *playAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	base := "/androidpublisher/v3/applications/" + pkg + "/purchases/"
	path := strings.TrimPrefix(r.URL.Path, base)
	if r.Method == http.MethodPost {
		a.mu.Lock()
		a.posts = append(a.posts, path)
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch path {
	case "products/superpack/tokens/tok-pack":
		_, _ = w.Write([]byte(`{"purchaseState":0,"consumptionState":0,"orderId":"GPA.1","purchaseTimeMillis":"1717243200000"}`))
	case "products/superpack/tokens/tok-void":
		_, _ = w.Write([]byte(`{"purchaseState":1,"orderId":"GPA.2","purchaseTimeMillis":"1717243200000"}`))
	case "products/superpack/tokens/tok-pending":
		_, _ = w.Write([]byte(`{"purchaseState":2,"orderId":"GPA.3","purchaseTimeMillis":"1717243200000"}`))
	case "products/season/tokens/tok-season":
		_, _ = w.Write([]byte(`{"purchaseState":0,"orderId":"GPA.4","purchaseTimeMillis":"1717243200000","purchaseType":0}`))
	case "subscriptions/weekly/tokens/tok-weekly":
		_, _ = w.Write([]byte(`{"startTimeMillis":"1717243200000","expiryTimeMillis":"1717848000000","autoRenewing":true,"paymentState":0,"orderId":"GPA.5..0","linkedPurchaseToken":"tok-first"}`))
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func (a *playAPI) Posts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.posts...)
}

func newVerifier(t *testing.T) (*Verifier, *playAPI) {
	t.Helper()
	api := &playAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	v, err := NewVerifier(context.Background(), Config{PackageName: pkg}, catalog,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return v.WithClock(func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }), api
}

func TestVerifyProduct(t *testing.T) {
	v, _ := newVerifier(t)

	txn, err := v.Verify(context.Background(), Envelope(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "tok-pack"}))
	require.NoError(t, err)
	assert.Equal(t, "GPA.1", txn.ID)
	assert.Equal(t, models.KindNonConsumable, txn.Kind)
	assert.Equal(t, "tok-pack", txn.PurchaseToken)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), txn.PurchaseDate)
	assert.Nil(t, txn.RevocationDate)
	assert.Equal(t, "Production", txn.Environment)

	txn, err = v.Verify(context.Background(), Envelope(Ref{Kind: "product", ProductID: "season", PurchaseToken: "tok-season"}))
	require.NoError(t, err)
	assert.Equal(t, models.KindNonRenewableSubscription, txn.Kind)
	assert.Nil(t, txn.ExpirationDate)
	assert.Equal(t, "Sandbox", txn.Environment)
}

func TestVerifyVoidedProductIsRevoked(t *testing.T) {
	v, _ := newVerifier(t)

	txn, err := v.Verify(context.Background(), Envelope(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "tok-void"}))
	require.NoError(t, err)
	assert.True(t, txn.Revoked())
}

func TestVerifyRejects(t *testing.T) {
	v, _ := newVerifier(t)

	cases := map[string]models.SignedTransaction{
		"pending":       Envelope(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "tok-pending"}),
		"unknown token": Envelope(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "nope"}),
		"missing token": Envelope(Ref{Kind: "product", ProductID: "superpack"}),
		"bad payload":   {Source: Source, Payload: "{"},
		"wrong source":  {Source: "sandbox", Payload: `{"productId":"a","purchaseToken":"b"}`},
	}
	for name, signed := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), signed)
			assert.ErrorIs(t, err, models.ErrUnverified)
		})
	}
}

func TestVerifySubscription(t *testing.T) {
	v, _ := newVerifier(t)

	txn, err := v.Verify(context.Background(), Envelope(Ref{Kind: "subscription", ProductID: "weekly", PurchaseToken: "tok-weekly"}))
	require.NoError(t, err)
	assert.Equal(t, models.KindAutoRenewableSubscription, txn.Kind)
	assert.Equal(t, "tok-first", txn.OriginalID)
	require.NotNil(t, txn.ExpirationDate)
	assert.Equal(t, time.UnixMilli(1717848000000).UTC(), *txn.ExpirationDate)
	require.NotNil(t, txn.RenewalDate)
	assert.True(t, txn.InBillingRetry)
	assert.False(t, txn.Revoked())

	revokedAt := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	v.MarkRevoked("tok-weekly", revokedAt)
	txn, err = v.Verify(context.Background(), Envelope(Ref{Kind: "subscription", ProductID: "weekly", PurchaseToken: "tok-weekly"}))
	require.NoError(t, err)
	require.NotNil(t, txn.RevocationDate)
	assert.Equal(t, revokedAt, *txn.RevocationDate)
}

func TestAcknowledgeByKind(t *testing.T) {
	v, api := newVerifier(t)
	ctx := context.Background()

	require.NoError(t, v.Acknowledge(ctx, models.Transaction{ProductID: "superpack", PurchaseToken: "a", Kind: models.KindNonConsumable}))
	require.NoError(t, v.Acknowledge(ctx, models.Transaction{ProductID: "coins", PurchaseToken: "b", Kind: models.KindConsumable}))
	require.NoError(t, v.Acknowledge(ctx, models.Transaction{ProductID: "weekly", PurchaseToken: "c", Kind: models.KindAutoRenewableSubscription}))
	assert.Error(t, v.Acknowledge(ctx, models.Transaction{ProductID: "weekly"}))

	assert.Equal(t, []string{
		"products/superpack/tokens/a:acknowledge",
		"products/coins/tokens/b:consume",
		"subscriptions/weekly/tokens/c:acknowledge",
	}, api.Posts())
}

func TestNewVerifierValidates(t *testing.T) {
	_, err := NewVerifier(context.Background(), Config{}, nil)
	assert.Error(t, err)
	_, err = NewVerifier(context.Background(), Config{PackageName: pkg}, nil)
	assert.Error(t, err)
}

func push(t *testing.T, n any) []byte {
	t.Helper()
	data, err := json.Marshal(n)
	require.NoError(t, err)
	var msg PushMessage
	msg.Message.Data = base64.StdEncoding.EncodeToString(data)
	msg.Message.MessageID = "m-1"
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestPlatformTracksPushedTokens(t *testing.T) {
	v, api := newVerifier(t)
	p := NewPlatform(v, testLogger{t}, catalog...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := p.Updates(ctx)
	require.NoError(t, err)

	_, err = p.HandlePush(push(t, map[string]any{
		"version":         "1.0",
		"packageName":     pkg,
		"eventTimeMillis": "1717250000000",
		"subscriptionNotification": map[string]any{
			"notificationType": 4,
			"purchaseToken":    "tok-weekly",
			"subscriptionId":   "weekly",
		},
	}))
	require.NoError(t, err)

	select {
	case signed := <-updates:
		txn, err := p.Verify(context.Background(), signed)
		require.NoError(t, err)
		assert.Equal(t, "weekly", txn.ProductID)
		require.NoError(t, p.Finish(context.Background(), txn))
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	assert.Equal(t, []string{"subscriptions/weekly/tokens/tok-weekly:acknowledge"}, api.Posts())

	p.Track(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "tok-pack"})
	current, err := p.CurrentEntitlements(context.Background())
	require.NoError(t, err)
	require.Len(t, current, 2)

	_, err = p.HandlePush(push(t, map[string]any{
		"packageName":     pkg,
		"eventTimeMillis": "1717260000000",
		"oneTimeProductNotification": map[string]any{
			"notificationType": 2,
			"purchaseToken":    "tok-pack",
			"sku":              "superpack",
		},
	}))
	require.NoError(t, err)
	txn, err := p.Verify(context.Background(), Envelope(Ref{Kind: "product", ProductID: "superpack", PurchaseToken: "tok-pack"}))
	require.NoError(t, err)
	require.NotNil(t, txn.RevocationDate)
	assert.Equal(t, time.UnixMilli(1717260000000).UTC(), *txn.RevocationDate)
}

func TestHandlePushRejects(t *testing.T) {
	v, _ := newVerifier(t)
	p := NewPlatform(v, testLogger{t})

	_, err := p.HandlePush([]byte("nope"))
	assert.Error(t, err)
	_, err = p.HandlePush(push(t, map[string]any{"packageName": "com.other", "eventTimeMillis": "1"}))
	assert.Error(t, err)

	n, err := p.HandlePush(push(t, map[string]any{"packageName": pkg, "eventTimeMillis": "1", "testNotification": map[string]any{"version": "1.0"}}))
	require.NoError(t, err)
	assert.NotNil(t, n.TestNotification)
	assert.Empty(t, p.Tokens())

	_, err = p.Purchase(context.Background(), "superpack")
	assert.ErrorIs(t, err, ErrPurchaseOnDevice)
}
