package store

import (
	"context"
	"errors"
	"testing"

	"iapkeeper/internal/models"
	"iapkeeper/internal/platform/sandbox"
)

func TestRouterDispatchesBySource(t *testing.T) {
	ctx := context.Background()
	p := sandbox.New([]byte("k"))
	r := NewRouter().Handle(sandbox.Source, p)

	txn, err := r.Verify(ctx, p.Sign(models.Transaction{ID: "1", ProductID: "pro"}))
	if err != nil || txn.ProductID != "pro" {
		t.Fatalf("verify: %+v %v", txn, err)
	}
	_, err = r.Verify(ctx, models.SignedTransaction{Source: "appstore", Payload: "x"})
	if !errors.Is(err, models.ErrUnknownSource) || !errors.Is(err, models.ErrUnverified) {
		t.Fatalf("expected unknown source, got %v", err)
	}
}
