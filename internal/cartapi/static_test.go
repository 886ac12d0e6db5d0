package cartapi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront-cartsync/internal/cart"
	"finitefield.org/storefront-cartsync/internal/cartapi"
)

func TestStaticServiceLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := cartapi.NewStaticService(
		cart.Item{ProductID: "1", Name: "Sukuma", Price: decimal.RequireFromString("45")},
		cart.Item{ProductID: "2", Name: "Milk", Price: decimal.RequireFromString("60.50")},
	)

	res, err := svc.Add(ctx, "1", 2)
	require.NoError(t, err)
	require.Equal(t, 2, res.CartCount)
	require.Equal(t, "Added Sukuma", res.Message)

	_, err = svc.Add(ctx, "2", 1)
	require.NoError(t, err)
	res, err = svc.Add(ctx, "1", 98)
	require.NoError(t, err)
	require.Equal(t, 100, res.CartCount, "line capped at 99 plus one milk")

	snap, err := svc.Mini(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	require.Equal(t, "4515.50", snap.Subtotal.StringFixed(2))

	milk, ok := snap.FindByProduct("2")
	require.True(t, ok)
	upd, err := svc.Update(ctx, milk.ItemID, 3)
	require.NoError(t, err)
	require.Equal(t, "181.50", upd.ItemSubtotal.StringFixed(2))
	require.Equal(t, 102, upd.CartCount)

	saved, err := svc.SaveForLater(ctx, milk.ItemID)
	require.NoError(t, err)
	require.Equal(t, 99, saved.CartCount)
	require.Equal(t, []cart.ID{"2"}, svc.Saved())

	sukuma, _ := snap.FindByProduct("1")
	rm, err := svc.Remove(ctx, sukuma.ItemID)
	require.NoError(t, err)
	require.True(t, rm.Removed)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Count)
}

func TestStaticServiceErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := cartapi.NewStaticService()

	_, err := svc.Add(ctx, "404", 1)
	var rejected *cartapi.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "Product not found", rejected.Message)

	_, err = svc.Update(ctx, "nope", 1)
	require.ErrorAs(t, err, &rejected)

	svc.Err = errors.New("offline")
	_, err = svc.Mini(ctx)
	require.EqualError(t, err, "offline")
}
