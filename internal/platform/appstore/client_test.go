package appstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	keyPEM, key := apiKeyPEM(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
			if tok.Header["kid"] != "KEY123" {
				return nil, errors.New("unexpected kid")
			}
			return &key.PublicKey, nil
		})
		if err != nil || !tok.Valid {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims := tok.Claims.(jwt.MapClaims)
		if claims["aud"] != "appstoreconnect-v1" || claims["iss"] != "issuer" || claims["bid"] != testBundle {
			http.Error(w, "bad claims", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		IssuerID:   "issuer",
		BundleID:   testBundle,
		KeyID:      "KEY123",
		PrivateKey: keyPEM,
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestClientTransactionHistoryPaginates(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/inApps/v2/history/1000", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("revision") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{"revision": "r1", "hasMore": true, "signedTransactions": []string{"a", "b"}})
		case "r1":
			_ = json.NewEncoder(w).Encode(map[string]any{"revision": "r2", "hasMore": false, "signedTransactions": []string{"c"}})
		default:
			t.Errorf("unexpected revision %q", r.URL.Query().Get("revision"))
		}
	})

	got, err := c.TransactionHistory(context.Background(), "1000")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 2, calls)
}

func TestClientGetTransactionAndRenewals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/inApps/v1/transactions/42":
			_, _ = w.Write([]byte(`{"signedTransactionInfo":"jws"}`))
		case "/inApps/v1/subscriptions/42":
			_, _ = w.Write([]byte(`{"data":[{"lastTransactions":[{"originalTransactionId":"7","signedRenewalInfo":"renewal"},{"originalTransactionId":"8"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	signed, err := c.GetTransaction(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "jws", signed)

	renewals, err := c.RenewalInfo(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"7": "renewal"}, renewals)

	_, err = c.GetTransaction(context.Background(), "")
	assert.Error(t, err)
}

func TestClientAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorCode":4040010}`, http.StatusNotFound)
	})

	_, err := c.GetTransaction(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "4040010")
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(ClientConfig{IssuerID: "i", KeyID: "k"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{IssuerID: "i", KeyID: "k", PrivateKey: "not pem"})
	assert.Error(t, err)

	keyPEM, _ := apiKeyPEM(t)
	c, err := NewClient(ClientConfig{IssuerID: "i", KeyID: "k", PrivateKey: keyPEM, Environment: "Sandbox"})
	require.NoError(t, err)
	assert.Equal(t, sandboxBaseURL, c.baseURL)
}
