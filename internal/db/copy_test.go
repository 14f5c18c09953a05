package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "outbox", []string{"email"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"outbox"}, []string{"email", "status"}).WillReturnResult(2)

	rows := [][]any{{"a@acme.fr", "READY"}, {"b@acme.fr", "ERROR"}}
	n, err := CopyFrom(context.Background(), mock, "outbox", []string{"email", "status"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"outbox"}, []string{"email"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "outbox", []string{"email"}, [][]any{{"a@acme.fr"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO outbox")
	assert.NoError(t, mock.ExpectationsWereMet())
}
