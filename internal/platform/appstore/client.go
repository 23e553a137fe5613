package appstore

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	prodBaseURL    = "https://api.storekit.itunes.apple.com"
	sandboxBaseURL = "https://api.storekit-sandbox.itunes.apple.com"
)

// ClientConfig holds App Store Server API credentials.
type ClientConfig struct {
	IssuerID   string `yaml:"issuer_id" env:"APPLE_ISSUER_ID"`
	BundleID   string `yaml:"bundle_id" env:"APPLE_BUNDLE_ID"`
	KeyID      string `yaml:"key_id" env:"APPLE_KEY_ID"`
	PrivateKey string `yaml:"private_key" env:"APPLE_PRIVATE_KEY"`

	// "sandbox" or "production".
	Environment string `yaml:"environment" env:"APPLE_ENVIRONMENT"`
	// BaseURL overrides the endpoint picked from Environment.
	BaseURL    string       `yaml:"base_url" env:"APPLE_BASE_URL"`
	HTTPClient *http.Client `yaml:"-"`
}

// Client talks to the App Store Server API.
type Client struct {
	issuerID string
	bundleID string
	keyID    string
	key      *ecdsa.PrivateKey
	baseURL  string
	http     *http.Client
	now      func() time.Time
}

// APIError is a non-2xx answer from the App Store Server API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("appstore api: %d %s", e.Status, e.Body)
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.IssuerID) == "" || strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("appstore: issuer_id, key_id and private_key are required")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = prodBaseURL
		if strings.EqualFold(strings.TrimSpace(cfg.Environment), "sandbox") {
			base = sandboxBaseURL
		}
	}
	return &Client{
		issuerID: strings.TrimSpace(cfg.IssuerID),
		bundleID: strings.TrimSpace(cfg.BundleID),
		keyID:    strings.TrimSpace(cfg.KeyID),
		key:      key,
		baseURL:  base,
		http:     client,
		now:      time.Now,
	}, nil
}

// GetTransaction returns signedTransactionInfo for transactionID.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (string, error) {
	if strings.TrimSpace(transactionID) == "" {
		return "", errors.New("transaction_id is required")
	}
	var body struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := c.get(ctx, "/inApps/v1/transactions/"+url.PathEscape(transactionID), nil, &body); err != nil {
		return "", err
	}
	if strings.TrimSpace(body.SignedTransactionInfo) == "" {
		return "", errors.New("empty signedTransactionInfo")
	}
	return body.SignedTransactionInfo, nil
}

// TransactionHistory returns every signed transaction for the customer that
// owns transactionID, following pagination.
func (c *Client) TransactionHistory(ctx context.Context, transactionID string) ([]string, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, errors.New("transaction_id is required")
	}
	var (
		out      []string
		revision string
	)
	for {
		q := url.Values{}
		if revision != "" {
			q.Set("revision", revision)
		}
		var page struct {
			Revision           string   `json:"revision"`
			HasMore            bool     `json:"hasMore"`
			SignedTransactions []string `json:"signedTransactions"`
		}
		if err := c.get(ctx, "/inApps/v2/history/"+url.PathEscape(transactionID), q, &page); err != nil {
			return nil, err
		}
		out = append(out, page.SignedTransactions...)
		if !page.HasMore || page.Revision == "" || page.Revision == revision {
			return out, nil
		}
		revision = page.Revision
	}
}

// RenewalInfo returns the signedRenewalInfo of each subscription group the
// customer owns, keyed by original transaction id.
func (c *Client) RenewalInfo(ctx context.Context, transactionID string) (map[string]string, error) {
	var body struct {
		Data []struct {
			LastTransactions []struct {
				OriginalTransactionID string `json:"originalTransactionId"`
				SignedRenewalInfo     string `json:"signedRenewalInfo"`
			} `json:"lastTransactions"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/inApps/v1/subscriptions/"+url.PathEscape(transactionID), nil, &body); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, group := range body.Data {
		for _, last := range group.LastTransactions {
			if last.SignedRenewalInfo != "" {
				out[last.OriginalTransactionID] = last.SignedRenewalInfo
			}
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) error {
	token, err := c.signedToken()
	if err != nil {
		return err
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *Client) signedToken() (string, error) {
	now := c.now().UTC()
	claims := jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
	}
	if c.bundleID != "" {
		claims["bid"] = c.bundleID
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = c.keyID
	return t.SignedString(c.key)
}
