package appstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iapkeeper/internal/models"
)

const testBundle = "com.example.app"

func TestVerifierDecodesTransactionWithRenewal(t *testing.T) {
	pki := newTestPKI(t)
	v := pki.verifier(t, testBundle)

	purchased := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	expires := purchased.Add(7 * 24 * time.Hour)
	grace := expires.Add(3 * 24 * time.Hour)

	payload := pki.sign(t, transactionPayload{
		TransactionID:               "2000000001",
		OriginalTransactionID:       "1000000001",
		BundleID:                    testBundle,
		ProductID:                   "weekly",
		SubscriptionGroupIdentifier: "21000001",
		PurchaseDate:                purchased.UnixMilli(),
		ExpiresDate:                 expires.UnixMilli(),
		Type:                        "Auto-Renewable Subscription",
		Environment:                 "Sandbox",
	})
	renewal := pki.sign(t, renewalPayload{
		OriginalTransactionID:  "1000000001",
		ProductID:              "weekly",
		IsInBillingRetryPeriod: true,
		GracePeriodExpiresDate: grace.UnixMilli(),
		RenewalDate:            expires.UnixMilli(),
	})

	txn, err := v.Verify(context.Background(), models.SignedTransaction{Source: Source, Payload: payload, Renewal: renewal})
	require.NoError(t, err)

	assert.Equal(t, "2000000001", txn.ID)
	assert.Equal(t, "1000000001", txn.OriginalID)
	assert.Equal(t, "weekly", txn.ProductID)
	assert.Equal(t, models.KindAutoRenewableSubscription, txn.Kind)
	assert.True(t, purchased.Equal(txn.PurchaseDate))
	require.NotNil(t, txn.ExpirationDate)
	assert.True(t, expires.Equal(*txn.ExpirationDate))
	require.NotNil(t, txn.GracePeriodExpirationDate)
	assert.True(t, grace.Equal(*txn.GracePeriodExpirationDate))
	require.NotNil(t, txn.RenewalDate)
	assert.True(t, txn.InBillingRetry)
	assert.Nil(t, txn.RevocationDate)
	assert.Equal(t, "21000001", txn.SubscriptionGroupID)
}

func TestVerifierIgnoresRenewalOfOtherSubscription(t *testing.T) {
	pki := newTestPKI(t)
	v := pki.verifier(t, testBundle)

	payload := pki.sign(t, transactionPayload{
		TransactionID: "1", OriginalTransactionID: "1", BundleID: testBundle,
		ProductID: "weekly", PurchaseDate: 1, ExpiresDate: 2, Type: "Auto-Renewable Subscription",
	})
	renewal := pki.sign(t, renewalPayload{OriginalTransactionID: "99", IsInBillingRetryPeriod: true})

	txn, err := v.Verify(context.Background(), models.SignedTransaction{Source: Source, Payload: payload, Renewal: renewal})
	require.NoError(t, err)
	assert.False(t, txn.InBillingRetry)
}

func TestVerifierRejects(t *testing.T) {
	pki := newTestPKI(t)
	other := newTestPKI(t)
	v := pki.verifier(t, testBundle)

	good := transactionPayload{TransactionID: "1", BundleID: testBundle, ProductID: "superpack", Type: "Non-Consumable"}
	token := pki.sign(t, good)

	wrongBundle := good
	wrongBundle.BundleID = "com.example.other"

	cases := map[string]models.SignedTransaction{
		"untrusted chain": {Source: Source, Payload: other.sign(t, good)},
		"bundle mismatch": {Source: Source, Payload: pki.sign(t, wrongBundle)},
		"tampered":        {Source: Source, Payload: token[:len(token)-4] + "AAAA"},
		"garbage":         {Source: Source, Payload: "not-a-jws"},
		"empty":           {Source: Source},
		"wrong source":    {Source: "sandbox", Payload: token},
		"bad renewal":     {Source: Source, Payload: token, Renewal: other.sign(t, renewalPayload{})},
	}
	for name, signed := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), signed)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrUnverified)
		})
	}
}

func TestVerifierRejectsExpiredChain(t *testing.T) {
	pki := newTestPKI(t)
	v := pki.verifier(t, "").WithClock(func() time.Time { return time.Now().Add(48 * time.Hour) })

	_, err := v.VerifyJWS(pki.sign(t, map[string]string{"a": "b"}))
	assert.ErrorIs(t, err, models.ErrUnverified)
}

func TestParseNotification(t *testing.T) {
	pki := newTestPKI(t)
	v := pki.verifier(t, testBundle)

	var n Notification
	n.NotificationType = "DID_RENEW"
	n.NotificationUUID = "c0ffee"
	n.Data.BundleID = testBundle
	n.Data.SignedTransactionInfo = "inner"

	got, err := v.ParseNotification(pki.sign(t, n))
	require.NoError(t, err)
	assert.Equal(t, "DID_RENEW", got.NotificationType)
	assert.Equal(t, "inner", got.Data.SignedTransactionInfo)

	n.Data.BundleID = "com.example.other"
	_, err = v.ParseNotification(pki.sign(t, n))
	assert.ErrorIs(t, err, models.ErrUnverified)
}

func TestRoots(t *testing.T) {
	pki := newTestPKI(t)

	_, err := ParseRoots(pki.rootDER)
	require.NoError(t, err)
	_, err = ParseRoots(pki.rootPEM())
	require.NoError(t, err)
	_, err = ParseRoots([]byte("junk"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "AppleRootCA-G3.cer")
	require.NoError(t, os.WriteFile(path, pki.rootDER, 0o600))
	pool, err := LoadRoots(path)
	require.NoError(t, err)

	v, err := NewVerifier(testBundle, pool)
	require.NoError(t, err)
	_, err = v.VerifyJWS(pki.sign(t, map[string]string{"a": "b"}))
	assert.NoError(t, err)

	_, err = LoadRoots(filepath.Join(t.TempDir(), "missing.cer"))
	assert.Error(t, err)
}
