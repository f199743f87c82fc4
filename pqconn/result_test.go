package pqconn_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solidsnack/pgversion/internal/pqmock"
	"github.com/solidsnack/pgversion/pqconn"
)

func doQuery(t *testing.T, h *pqmock.Result) *pqconn.Result {
	t.Helper()

	transport := pqmock.New()
	transport.ScriptResult(h)

	conn := mustConnect(t, transport)
	t.Cleanup(func() { closeConn(t, conn) })

	result, err := conn.Do(context.Background(), pqconn.Query{SQL: "select 1"})
	require.NoError(t, err)
	return result
}

func TestResultGrid(t *testing.T) {
	t.Parallel()

	handle := pqmock.NewRowsResult(
		[]string{"a", "b"},
		[][][]byte{
			{[]byte("1"), nil},
			{[]byte("2"), []byte("3")},
		},
	)
	result := doQuery(t, handle)
	defer result.Close()

	require.Equal(t, pqconn.ResultTuplesOK, result.Status())
	require.Equal(t, 2, result.RowCount())
	require.Equal(t, []string{"a", "b"}, result.ColumnNames())

	rows := result.Rows()
	require.Equal(t, []byte("1"), rows[0][0])
	require.Nil(t, rows[0][1], "NULL cell must come back as nil, not empty")
	require.Equal(t, []byte("3"), rows[1][1])
}

func TestResultCheck(t *testing.T) {
	t.Parallel()

	result := doQuery(t, pqmock.NewCommandResult())
	defer result.Close()
	require.NoError(t, result.Check())

	failed := doQuery(t, pqmock.NewErrorResult("23505", "duplicate key value violates unique constraint"))
	defer failed.Close()

	var reqErr *pqconn.RequestError
	require.ErrorAs(t, failed.Check(), &reqErr)
	require.Equal(t, "23505", reqErr.Code)
	require.Contains(t, reqErr.Message, "duplicate key")
}

func TestResultCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	handle := pqmock.NewCommandResult()
	result := doQuery(t, handle)

	result.Close()
	result.Close()
	require.Equal(t, 1, handle.CloseCount())
}
