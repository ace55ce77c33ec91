package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRepo_ListActiveByType(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT token_address, issuer_address, type, status, abi, initial_position_synced, created FROM token WHERE .* ORDER BY created, token_address`).
		WithArgs("active", "IbetShare").
		WillReturnRows(sqlmock.NewRows([]string{"token_address", "issuer_address", "type", "status", "abi", "initial_position_synced", "created"}).
			AddRow(tokenAddr, accountAddr, "IbetShare", "active", "[]", false, time.Now()))

	tokens, err := NewTokenRepo(db).ListActiveByType(context.Background(), "IbetShare")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, tokenAddr, tokens[0].TokenAddress)
	assert.False(t, tokens[0].InitialPositionSynced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_MarkInitialPositionSynced(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE token SET initial_position_synced = \$1 WHERE token_address = \$2`).
		WithArgs(true, tokenAddr).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewTokenRepo(db).MarkInitialPositionSynced(context.Background(), tokenAddr))
	assert.NoError(t, mock.ExpectationsWereMet())
}
