package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

var (
	// ErrUnknownEventType is returned for event types with no payload variant.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidPayload is returned when a payload is malformed or misses required fields.
	ErrInvalidPayload = errors.New("invalid event payload")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Decode parses raw into the payload variant for eventType. Unknown JSON
// fields are ignored; required fields and amount signs are enforced.
func Decode(eventType enums.EventType, raw json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty payload for %s", ErrInvalidPayload, eventType)
	}

	var payload Payload
	switch eventType {
	case enums.EventTypeOrderCreated:
		var p OrderCreated
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		payload = p
	case enums.EventTypeRefundCreated:
		var p RefundCreated
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		payload = p
	case enums.EventTypeAdSpendRecorded:
		var p AdSpendRecorded
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		payload = p
	case enums.EventTypeManualEntry:
		var p ManualEntry
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		payload = p
	case enums.EventTypeAppDisconnected:
		var p AppDisconnected
		if err := unmarshal(raw, &p); err != nil {
			return nil, err
		}
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	if err := check(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	return payload, nil
}

func unmarshal(raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func check(payload Payload) error {
	if err := validate.Struct(payload); err != nil {
		return describe(err)
	}

	switch p := payload.(type) {
	case OrderCreated:
		if !Cents(p.GrossAmount).IsPositive() {
			return errors.New("gross_amount must be positive")
		}
		if p.PlatformFee.IsNegative() || p.ProcessingFee.IsNegative() {
			return errors.New("fees must not be negative")
		}
		if p.TotalFees().GreaterThan(Cents(p.GrossAmount)) {
			return errors.New("fees exceed gross_amount")
		}
		if p.OccurredAt.IsZero() {
			return errors.New("occurred_at is required")
		}
		sum := decimal.Zero
		for i, item := range p.LineItems {
			if item.Amount.IsNegative() || item.Cost.IsNegative() {
				return fmt.Errorf("line_items[%d]: amounts must not be negative", i)
			}
			sum = sum.Add(item.Amount)
		}
		if len(p.LineItems) > 0 && !sum.IsPositive() {
			return errors.New("line_items carry no amount")
		}
	case RefundCreated:
		if !Cents(p.Amount).IsPositive() {
			return errors.New("amount must be positive")
		}
		if p.FeeReversed.IsNegative() || Cents(p.FeeReversed).GreaterThan(Cents(p.Amount)) {
			return errors.New("fee_reversed must be between 0 and amount")
		}
		if p.OccurredAt.IsZero() {
			return errors.New("occurred_at is required")
		}
	case AdSpendRecorded:
		if p.Amount.IsNegative() {
			return errors.New("amount must not be negative")
		}
	case ManualEntry:
		if !p.Account.IsValid() {
			return fmt.Errorf("unknown account %q", p.Account)
		}
		if !p.Direction.IsValid() {
			return fmt.Errorf("unknown direction %q", p.Direction)
		}
		if p.CounterAccount != "" && !p.CounterAccount.IsValid() {
			return fmt.Errorf("unknown counter_account %q", p.CounterAccount)
		}
		if p.CounterAccount == p.Account {
			return errors.New("counter_account must differ from account")
		}
		if !p.Amount.IsPositive() {
			return errors.New("amount must be positive")
		}
		if p.OccurredAt.IsZero() {
			return errors.New("occurred_at is required")
		}
	case AppDisconnected:
		if p.DisconnectedAt.IsZero() {
			return errors.New("disconnected_at is required")
		}
	}
	return nil
}

func describe(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
