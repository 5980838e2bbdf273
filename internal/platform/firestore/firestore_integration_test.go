//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motorshield/warranty-api/internal/platform/config"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
)

type counterDoc struct {
	Label string `firestore:"label"`
	Count int    `firestore:"count"`
}

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "warranty-it", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestCollectionRoundTrip(t *testing.T) {
	provider := emulatorProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	coll := pfirestore.NewCollection[counterDoc](provider, "it_counters")
	require.NoError(t, coll.Set(ctx, "c1", counterDoc{Label: "alpha", Count: 1}))

	snap, err := coll.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", snap.ID)
	assert.Equal(t, counterDoc{Label: "alpha", Count: 1}, snap.Data)
	assert.False(t, snap.UpdateTime.IsZero())

	err = coll.Create(ctx, "c1", counterDoc{Label: "dup"})
	var cls interface{ IsConflict() bool }
	require.True(t, errors.As(err, &cls))
	assert.True(t, cls.IsConflict())

	_, err = coll.Get(ctx, "missing")
	var nf interface{ IsNotFound() bool }
	require.True(t, errors.As(err, &nf))
	assert.True(t, nf.IsNotFound())

	require.NoError(t, provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := coll.GetTx(ctx, tx, "c1")
		if err != nil {
			return err
		}
		current.Data.Count++
		return coll.SetTx(ctx, tx, "c1", current.Data)
	}))

	snaps, err := coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("label", "==", "alpha")
	})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Data.Count)

	require.NoError(t, coll.Delete(ctx, "c1"))
	require.NoError(t, coll.Delete(ctx, "c1"))

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
