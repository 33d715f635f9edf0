package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpExtractsPgxDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_events_natural_key", TableName: "events", Message: "duplicate key"}
	err := Wrap(CodeStorageUnavailable, fmt.Errorf("insert event: %w", pgErr), "ingest")

	d := Dump(err)
	if d.Code != CodeStorageUnavailable || !d.Retryable {
		t.Fatalf("unexpected code/retryable: %+v", d)
	}
	if d.PG == nil || d.PG.Code != "23505" || d.PG.Constraint != "ux_events_natural_key" {
		t.Fatalf("pg details missing: %+v", d.PG)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected the full unwrap chain, got %v", d.Chain)
	}

	fields := d.Fields()
	if fields["pg_table"] != "events" || fields["error_code"] != CodeStorageUnavailable {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestDumpExtractsPqDetails(t *testing.T) {
	err := fmt.Errorf("upsert: %w", &pq.Error{Code: "40001", Table: "ledger_transactions", Message: "serialization failure"})
	d := Dump(err)
	if d.PG == nil || d.PG.Code != "40001" || d.PG.Table != "ledger_transactions" {
		t.Fatalf("pq details missing: %+v", d.PG)
	}
	if d.Code != "" || d.Retryable {
		t.Fatalf("untyped error should carry no code: %+v", d)
	}
}

func TestDumpPlainError(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || d.Fields()["error"] != "" {
		t.Fatalf("nil error should dump empty")
	}
	fields := Dump(stdErrors.New("boom")).Fields()
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("plain error should not carry pg fields")
	}
	if _, ok := fields["error_chain"]; ok {
		t.Fatalf("single-link chain should be omitted")
	}
}
