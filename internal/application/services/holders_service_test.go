package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/testutil"
)

func TestHoldersService_GetHolders(t *testing.T) {
	ctx := context.Background()

	t.Run("ranks holders by balance", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		repo.AddPositions(
			testutil.CreateTestPosition(testutil.BondToken, testutil.AliceAddress, 30, 0, 0, 0),
			testutil.CreateTestPosition(testutil.BondToken, testutil.BobAddress, 70, 0, 0, 0),
			testutil.CreateTestPosition(testutil.BondToken, testutil.CharlieAddr, 0, 0, 0, 0),
			testutil.CreateTestPosition(testutil.ShareToken, testutil.AliceAddress, 500, 0, 0, 0),
		)
		svc := NewHoldersService(repo, nil, zap.NewNop())

		resp, err := svc.GetHolders(ctx, HoldersQuery{TokenAddress: testutil.BondToken.Hex(), Limit: 10})
		require.NoError(t, err)

		require.Len(t, resp.Data, 2)
		assert.Equal(t, 1, resp.Data[0].Rank)
		assert.Equal(t, testutil.BobAddress.Hex(), resp.Data[0].AccountAddress)
		assert.Equal(t, "70", resp.Data[0].Balance)
		assert.Equal(t, 2, resp.Data[1].Rank)
		assert.Equal(t, int64(2), resp.Pagination.Total)
		assert.False(t, resp.Pagination.HasMore)
	})

	t.Run("ranks continue across pages", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		repo.AddPositions(
			testutil.CreateTestPosition(testutil.BondToken, testutil.AliceAddress, 30, 0, 0, 0),
			testutil.CreateTestPosition(testutil.BondToken, testutil.BobAddress, 70, 0, 0, 0),
			testutil.CreateTestPosition(testutil.BondToken, testutil.CharlieAddr, 0, 0, 0, 0),
		)
		svc := NewHoldersService(repo, nil, zap.NewNop())

		resp, err := svc.GetHolders(ctx, HoldersQuery{
			TokenAddress:  testutil.BondToken.Hex(),
			IncludeFormer: true,
			Limit:         1,
			Offset:        1,
		})
		require.NoError(t, err)

		require.Len(t, resp.Data, 1)
		assert.Equal(t, 2, resp.Data[0].Rank)
		assert.Equal(t, testutil.AliceAddress.Hex(), resp.Data[0].AccountAddress)
		assert.Equal(t, int64(3), resp.Pagination.Total)
		assert.True(t, resp.Pagination.HasMore)
	})

	t.Run("normalizes the token address", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		var got string
		repo.ListByTokenFunc = func(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
			got = tokenAddress
			return nil, nil
		}
		svc := NewHoldersService(repo, nil, zap.NewNop())

		_, err := svc.GetHolders(ctx, HoldersQuery{TokenAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, testutil.BondToken.Hex(), got)
	})

	t.Run("wraps repository errors", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		repo.ListByTokenFunc = func(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
			return nil, errors.New("database error")
		}
		svc := NewHoldersService(repo, nil, zap.NewNop())

		_, err := svc.GetHolders(ctx, HoldersQuery{TokenAddress: testutil.BondToken.Hex(), Limit: 10})
		assert.ErrorContains(t, err, "failed to list holders")
	})
}

func TestHoldersService_ReadsCommittedPositions(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SetPosition(testutil.BondToken, testutil.AliceAddress, 10, 0, 0, 0)
	store.SetPosition(testutil.BondToken, testutil.BobAddress, 10, 0, 0, 0)
	svc := NewHoldersService(store.PositionQueryRepo(), nil, zap.NewNop())

	resp, err := svc.GetHolders(context.Background(), HoldersQuery{TokenAddress: testutil.BondToken.Hex(), Limit: 10})
	require.NoError(t, err)

	require.Len(t, resp.Data, 2)
	// equal balances fall back to account order
	assert.Equal(t, testutil.AliceAddress.Hex(), resp.Data[0].AccountAddress)
}
