// Package appstore adapts the App Store to the entitlement service: JWS
// verification of signed transactions, the App Store Server API and Server
// Notifications V2.
package appstore

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"iapkeeper/internal/models"
)

// Source tags envelopes that carry App Store JWS.
const Source = "appstore"

const verifiedCacheSize = 1024

// Verifier checks JWS payloads signed by the App Store. The signing chain in
// the x5c header must lead to one of Roots.
type Verifier struct {
	bundleID string
	roots    *x509.CertPool
	now      func() time.Time
	cache    *lru.Cache[[sha256.Size]byte, []byte]
}

func NewVerifier(bundleID string, roots *x509.CertPool) (*Verifier, error) {
	if roots == nil {
		return nil, errors.New("appstore: root certificates are required")
	}
	cache, err := lru.New[[sha256.Size]byte, []byte](verifiedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		bundleID: strings.TrimSpace(bundleID),
		roots:    roots,
		now:      time.Now,
		cache:    cache,
	}, nil
}

// WithClock replaces the time used to validate certificate chains.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifyJWS verifies token and returns its payload.
func (v *Verifier) VerifyJWS(token string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty signed payload", models.ErrUnverified)
	}
	sum := sha256.Sum256([]byte(token))
	if payload, ok := v.cache.Get(sum); ok {
		return payload, nil
	}

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnverified, err)
	}
	if len(jws.Signatures) == 0 {
		return nil, fmt.Errorf("%w: missing signature", models.ErrUnverified)
	}
	chains, err := jws.Signatures[0].Header.Certificates(x509.VerifyOptions{
		Roots:       v.roots,
		CurrentTime: v.now(),
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: certificate chain: %v", models.ErrUnverified, err)
	}
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil, fmt.Errorf("%w: empty certificate chain", models.ErrUnverified)
	}
	leaf := chains[0][0]
	if leaf.PublicKey == nil {
		return nil, fmt.Errorf("%w: certificate missing public key", models.ErrUnverified)
	}
	payload, err := jws.Verify(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnverified, err)
	}
	v.cache.Add(sum, payload)
	return payload, nil
}

// Verify implements the service's Verifier for App Store envelopes.
func (v *Verifier) Verify(_ context.Context, signed models.SignedTransaction) (models.Transaction, error) {
	if signed.Source != Source {
		return models.Transaction{}, fmt.Errorf("%w: source %q", models.ErrUnverified, signed.Source)
	}
	data, err := v.VerifyJWS(signed.Payload)
	if err != nil {
		return models.Transaction{}, err
	}
	var p transactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Transaction{}, fmt.Errorf("%w: decode transaction: %v", models.ErrUnverified, err)
	}
	if v.bundleID != "" && p.BundleID != "" && p.BundleID != v.bundleID {
		return models.Transaction{}, fmt.Errorf("%w: bundle id mismatch: %s", models.ErrUnverified, p.BundleID)
	}
	txn := p.transaction()

	if signed.Renewal != "" {
		data, err := v.VerifyJWS(signed.Renewal)
		if err != nil {
			return models.Transaction{}, err
		}
		var r renewalPayload
		if err := json.Unmarshal(data, &r); err != nil {
			return models.Transaction{}, fmt.Errorf("%w: decode renewal info: %v", models.ErrUnverified, err)
		}
		r.apply(&txn)
	}
	return txn, nil
}

// ParseNotification verifies a signedPayload posted by the App Store.
func (v *Verifier) ParseNotification(signedPayload string) (Notification, error) {
	data, err := v.VerifyJWS(signedPayload)
	if err != nil {
		return Notification{}, err
	}
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: decode notification: %v", models.ErrUnverified, err)
	}
	if v.bundleID != "" && n.Data.BundleID != "" && n.Data.BundleID != v.bundleID {
		return Notification{}, fmt.Errorf("%w: bundle id mismatch: %s", models.ErrUnverified, n.Data.BundleID)
	}
	return n, nil
}
