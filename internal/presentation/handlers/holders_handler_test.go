package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/application/services"
	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/testutil"
)

func setupHoldersHandler(repo *testutil.MockPositionQueryRepository) http.Handler {
	logger := zap.NewNop()
	handler := NewHoldersHandler(services.NewHoldersService(repo, nil, logger), logger)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestHoldersHandler_GetHolders(t *testing.T) {
	t.Run("returns ranked holders", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		repo.AddPositions(
			testutil.CreateTestPosition(testutil.BondToken, testutil.AliceAddress, 5, 0, 0, 0),
			testutil.CreateTestPosition(testutil.BondToken, testutil.BobAddress, 50, 0, 0, 0),
		)

		w := serve(setupHoldersHandler(repo), "/tokens/"+bondHex+"/holders")

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		var response services.HoldersResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if len(response.Data) != 2 {
			t.Fatalf("expected 2 holders, got %d", len(response.Data))
		}
		if response.Data[0].AccountAddress != testutil.BobAddress.Hex() || response.Data[0].Rank != 1 {
			t.Errorf("expected Bob ranked first, got %+v", response.Data[0])
		}
	})

	t.Run("passes pagination to repository", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		var gotLimit, gotOffset int
		var gotFormer bool
		repo.ListByTokenFunc = func(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
			gotLimit, gotOffset, gotFormer = limit, offset, includeFormer
			return nil, nil
		}

		serve(setupHoldersHandler(repo), "/tokens/"+bondHex+"/holders?limit=25&offset=50&include_former=1")

		if gotLimit != 25 || gotOffset != 50 || !gotFormer {
			t.Errorf("unexpected query limit=%d offset=%d include_former=%v", gotLimit, gotOffset, gotFormer)
		}
	})

	t.Run("returns error for invalid address", func(t *testing.T) {
		w := serve(setupHoldersHandler(testutil.NewMockPositionQueryRepository()), "/tokens/not-an-address/holders")

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("returns error on repository failure", func(t *testing.T) {
		repo := testutil.NewMockPositionQueryRepository()
		repo.ListByTokenFunc = func(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
			return nil, errors.New("database error")
		}

		w := serve(setupHoldersHandler(repo), "/tokens/"+bondHex+"/holders")

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", w.Code)
		}
	})
}
