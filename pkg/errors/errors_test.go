package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInsufficientStock, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeAmountMismatch, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInvalidTransition, status: http.StatusConflict, detailsOK: true},
		{code: CodeGateway, status: http.StatusBadGateway, retryable: true},
		{code: CodeTransactionNotFound, status: http.StatusNotFound},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detailed := base.WithDetails(map[string]any{"field": "foo"})
	if detailed.Details() == nil || detailed.Code() != CodeValidation {
		t.Fatalf("details should be attached to the copy")
	}
	if base.Details() != nil {
		t.Fatalf("WithDetails must not mutate the receiver")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeGateway, cause, "create invoice")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeGateway || !wrapped.Retryable() {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsAndIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeInsufficientStock, "only 2 left"))
	if got := As(err); got == nil || got.Code() != CodeInsufficientStock {
		t.Fatalf("As failed to return typed error")
	}
	if !IsCode(err, CodeInsufficientStock) {
		t.Fatalf("expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("expected IsCode mismatch")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestTransactionNotFoundIsNotRetryable(t *testing.T) {
	err := Newf(CodeTransactionNotFound, "no transaction for bill %s", "123")
	if err.Retryable() {
		t.Fatalf("transaction not found must not be retryable")
	}
	if err.Message() != "no transaction for bill 123" {
		t.Fatalf("unexpected message %q", err.Message())
	}
}

func TestDumpCollectsChain(t *testing.T) {
	err := Wrap(CodeInternal, stdErrors.New("disk full"), "persist order")
	d := Dump(err)
	if d.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", d.Code)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
}

func TestPostgresFieldsFromBothDrivers(t *testing.T) {
	pgx := Wrap(CodeConflict, &pgconn.PgError{Code: "23505", ConstraintName: "ux_transactions_operator_reference", TableName: "transactions"}, "insert transaction")
	fields, ok := Postgres(pgx)
	if !ok || fields.PGConstraint != "ux_transactions_operator_reference" || fields.PGTable != "transactions" {
		t.Fatalf("unexpected pgx fields %+v", fields)
	}

	pqErr := fmt.Errorf("insert: %w", &pq.Error{Code: "23514", Constraint: "products_stock_check"})
	d := Dump(pqErr)
	if d.PGCode != "23514" || d.PGConstraint != "products_stock_check" {
		t.Fatalf("unexpected dump %+v", d)
	}

	if _, ok := Postgres(stdErrors.New("plain")); ok {
		t.Fatal("plain errors carry no postgres fields")
	}
}
