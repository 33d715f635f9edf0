package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataTable(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:         {http.StatusBadRequest, false, "validation failed", true},
		CodeNotFound:           {http.StatusNotFound, false, "resource not found", false},
		CodeStateConflict:      {http.StatusUnprocessableEntity, false, "state transition disallowed", true},
		CodeIdempotency:        {http.StatusConflict, false, "idempotency key reused", true},
		CodeRateLimit:          {http.StatusTooManyRequests, false, "rate limit exceeded", false},
		CodeDependency:         {http.StatusServiceUnavailable, true, "dependency unavailable", true},
		CodeStorageUnavailable: {http.StatusServiceUnavailable, true, "storage unavailable", false},
		CodeUnbalancedEntry:    {http.StatusUnprocessableEntity, false, "ledger entries do not balance", true},
		"SOMETHING_UNKNOWN":    {http.StatusInternalServerError, true, "internal server error", false},
	}
	for code, want := range cases {
		if got := MetadataFor(code); got != want {
			t.Fatalf("MetadataFor(%s) = %+v, want %+v", code, got, want)
		}
	}
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for _, code := range []Code{
		CodeValidation, CodeNotFound, CodeConflict, CodeStateConflict, CodeIdempotency, CodeRateLimit,
		CodeInternal, CodeDependency, CodeStorageUnavailable, CodeUnbalancedEntry, CodeUnknownEventType,
	} {
		if _, ok := metadataByCode[code]; !ok {
			t.Fatalf("code %s has no metadata", code)
		}
	}
}

func TestErrorFormattingAndDetails(t *testing.T) {
	err := Newf(CodeValidation, "missing %s", "stream_type")
	if err.Error() != "VALIDATION_ERROR: missing stream_type" || err.Message() != "missing stream_type" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	if err.Details() != nil {
		t.Fatalf("details should start empty")
	}
	if err.WithDetails(map[string]string{"stream_type": "is required"}).Details() == nil {
		t.Fatalf("details lost")
	}

	var nilErr *Error
	if nilErr.Code() != CodeInternal || nilErr.Error() != "" || nilErr.WithDetails("x") != nil {
		t.Fatalf("nil *Error should be inert")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: connection refused")
	wrapped := fmt.Errorf("ingest: %w", Wrap(CodeStorageUnavailable, cause, "event log"))

	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("cause not reachable through the chain")
	}
	if CodeOf(wrapped) != CodeStorageUnavailable {
		t.Fatalf("unexpected code %q", CodeOf(wrapped))
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("storage unavailable should be retryable")
	}
	if Wrap(CodeConflict, nil, "x").Unwrap() != nil {
		t.Fatalf("nil cause should stay nil")
	}
}

func TestHasCode(t *testing.T) {
	defect := fmt.Errorf("project: %w", New(CodeUnbalancedEntry, "usd off by 0.01"))
	if !HasCode(defect, CodeUnknownEventType, CodeUnbalancedEntry) {
		t.Fatalf("expected match on second code")
	}
	if HasCode(defect, CodeValidation) {
		t.Fatalf("unexpected match")
	}
	plain := stdErrors.New("plain")
	if HasCode(plain, CodeInternal) || CodeOf(plain) != "" || IsRetryable(plain) || As(nil) != nil {
		t.Fatalf("untyped errors carry no code")
	}
}
