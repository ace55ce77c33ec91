package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/testutil"
)

func TestPositionSink_Upsert(t *testing.T) {
	token := testutil.BondToken
	alice, bob := testutil.AliceAddress, testutil.BobAddress

	tests := []struct {
		name     string
		existing *[4]int64
		update   entities.PositionUpdate
		want     *[4]string
		touched  bool
	}{
		{
			name:   "absent and all zero creates nothing",
			update: entities.PositionUpdate{Balance: amount(0), PendingTransfer: amount(0)},
		},
		{
			name:   "absent and empty creates nothing",
			update: entities.PositionUpdate{},
		},
		{
			name:    "absent and positive creates with zero defaults",
			update:  entities.PositionUpdate{ExchangeBalance: amount(7)},
			want:    &[4]string{"0", "0", "7", "0"},
			touched: true,
		},
		{
			name:     "existing keeps absent fields",
			existing: &[4]int64{10, 2, 3, 4},
			update:   entities.PositionUpdate{Balance: amount(11)},
			want:     &[4]string{"11", "2", "3", "4"},
			touched:  true,
		},
		{
			name:     "existing goes to zero and is retained",
			existing: &[4]int64{10, 2, 3, 4},
			update:   entities.PositionUpdate{Balance: amount(0), PendingTransfer: amount(0)},
			want:     &[4]string{"0", "0", "3", "4"},
			touched:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			if tt.existing != nil {
				e := tt.existing
				store.SetPosition(token, alice, e[0], e[1], e[2], e[3])
			}

			ctx := context.Background()
			tx, err := store.Begin(ctx)
			require.NoError(t, err)

			sink := NewPositionSink(tx.Positions())
			require.NoError(t, sink.Upsert(ctx, token, alice, tt.update))
			require.NoError(t, tx.Commit())

			if tt.want == nil {
				assert.Nil(t, store.Position(token, alice))
			} else {
				assert.Equal(t, *tt.want, testutil.Amounts(store.Position(token, alice)))
			}

			if tt.touched {
				assert.Equal(t, []string{alice.Hex()}, sink.TouchedAccounts())
			} else {
				assert.Empty(t, sink.TouchedAccounts())
			}
			assert.Nil(t, store.Position(token, bob))
		})
	}
}

func TestPositionSink_RepeatedUpsertConverges(t *testing.T) {
	store := testutil.NewMemoryStore()
	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	sink := NewPositionSink(tx.Positions())

	update := entities.PositionUpdate{Balance: amount(5), PendingTransfer: amount(1)}
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Upsert(ctx, testutil.BondToken, testutil.AliceAddress, update))
	}
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, store.PositionCount())
	assert.Equal(t, [4]string{"5", "1", "0", "0"}, testutil.Amounts(store.Position(testutil.BondToken, testutil.AliceAddress)))
}

func TestPositionSink_TouchedAccountsSorted(t *testing.T) {
	store := testutil.NewMemoryStore()
	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	sink := NewPositionSink(tx.Positions())

	require.NoError(t, sink.Upsert(ctx, testutil.BondToken, testutil.CharlieAddr, entities.PositionUpdate{Balance: amount(1)}))
	require.NoError(t, sink.Upsert(ctx, testutil.ShareToken, testutil.AliceAddress, entities.PositionUpdate{Balance: amount(1)}))
	require.NoError(t, sink.Upsert(ctx, testutil.ShareToken, testutil.CharlieAddr, entities.PositionUpdate{Balance: amount(1)}))

	assert.Equal(t, []string{testutil.AliceAddress.Hex(), testutil.CharlieAddr.Hex()}, sink.TouchedAccounts())
}

func TestPositionSink_StorageErrors(t *testing.T) {
	for _, op := range []string{"Positions.Get", "Positions.Create", "Positions.Update"} {
		t.Run(op, func(t *testing.T) {
			store := testutil.NewMemoryStore()
			store.SetPosition(testutil.BondToken, testutil.AliceAddress, 1, 0, 0, 0)
			store.FailOn(op, errors.New("pq: deadlock detected"))

			ctx := context.Background()
			tx, _ := store.Begin(ctx)
			sink := NewPositionSink(tx.Positions())

			account := testutil.AliceAddress
			if op == "Positions.Create" {
				account = testutil.BobAddress
			}
			err := sink.Upsert(ctx, testutil.BondToken, account, entities.PositionUpdate{Balance: amount(2)})

			assert.ErrorIs(t, err, ErrStorage)
			assert.True(t, isFatal(err))
		})
	}
}
