package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGFields are the postgres diagnostics worth logging for a failed write,
// typically a unique or check constraint on orders, transactions or stock.
type PGFields struct {
	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
}

// ErrorDump flattens an error for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable,omitempty"`
	Details    any      `json:"details,omitempty"`
	Chain      []string `json:"chain,omitempty"`
	PGFields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = te.Retryable()
		d.Details = te.Details()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.PGFields, _ = Postgres(err)
	return d
}

// Postgres extracts driver diagnostics from either the pgx or the lib/pq
// error type.
func Postgres(err error) (PGFields, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGFields{
			PGCode:       pgxErr.Code,
			PGConstraint: pgxErr.ConstraintName,
			PGTable:      pgxErr.TableName,
			PGDetail:     pgxErr.Detail,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGFields{
			PGCode:       string(pqErr.Code),
			PGConstraint: pqErr.Constraint,
			PGTable:      pqErr.Table,
			PGDetail:     pqErr.Detail,
		}, true
	}
	return PGFields{}, false
}
