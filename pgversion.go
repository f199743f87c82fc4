// Package pgversion reports the version of a PostgreSQL-compatible server
// over an established pqconn connection.
package pgversion

import (
	"context"
	"strings"

	"github.com/solidsnack/pgversion/pqconn"
)

// ServerVersion asks the server for its full version banner, e.g.
// "PostgreSQL 16.3 on x86_64-pc-linux-gnu, compiled by gcc ...".
func ServerVersion(ctx context.Context, conn *pqconn.Conn) (string, error) {
	result, err := conn.Do(ctx, pqconn.Query{SQL: "select version();"})
	if err != nil {
		return "", err
	}
	defer result.Close()

	if err := result.Check(); err != nil {
		return "", err
	}

	rows := result.Rows()
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == nil {
		return "", &pqconn.InternalError{Msg: "version query returned no value"}
	}
	return string(rows[0][0]), nil
}

// ServerVersionNumber returns the server_version runtime parameter, e.g.
// "16.3". It is cheaper than ServerVersion when only the number matters.
func ServerVersionNumber(ctx context.Context, conn *pqconn.Conn) (string, error) {
	result, err := conn.Do(ctx, pqconn.Query{SQL: "show server_version;"})
	if err != nil {
		return "", err
	}
	defer result.Close()

	if err := result.Check(); err != nil {
		return "", err
	}

	rows := result.Rows()
	if len(rows) == 0 || len(rows[0]) == 0 || rows[0][0] == nil {
		return "", &pqconn.InternalError{Msg: "version query returned no value"}
	}
	return strings.TrimSpace(string(rows[0][0])), nil
}
