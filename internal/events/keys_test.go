package events

import (
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

func TestNaturalKeyPerType(t *testing.T) {
	disconnectedAt := time.Date(2026, 3, 2, 8, 30, 0, 0, time.FixedZone("EST", -5*3600))

	cases := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"order", OrderCreated{OrderID: " 1001 "}, "1001"},
		{"refund", RefundCreated{RefundID: "r-9"}, "r-9"},
		{"ad spend with id", AdSpendRecorded{SpendID: "sp-1", Platform: "meta", CampaignID: "c1", Date: "2026-03-02"}, "sp-1"},
		{"ad spend composite", AdSpendRecorded{Platform: "meta", CampaignID: "c1", Date: "2026-03-02"}, "meta:c1:2026-03-02"},
		{"manual", ManualEntry{EntryID: "adj-7"}, "adj-7"},
		{"disconnect", AppDisconnected{ConnectionID: "conn-1", DisconnectedAt: disconnectedAt}, "conn-1:2026-03-02T13:30:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, version, err := NaturalKey(tc.payload)
			if err != nil {
				t.Fatalf("natural key: %v", err)
			}
			if key != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, key)
			}
			if version != 1 {
				t.Fatalf("expected version 1, got %d", version)
			}
		})
	}
}

func TestNaturalKeyIsStructural(t *testing.T) {
	// An order id embedded elsewhere in the payload must not be picked up.
	_, _, err := NaturalKey(OrderCreated{Channel: "order_id:1001"})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestNaturalKeyAtUnknownVersion(t *testing.T) {
	if _, err := NaturalKeyAt(RefundCreated{RefundID: "r-1"}, 2); err == nil {
		t.Fatal("expected error for unpublished version")
	}
	key, err := NaturalKeyAt(RefundCreated{RefundID: "r-1"}, 1)
	if err != nil || key != "r-1" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}
	if enums.EventTypeRefundCreated != (RefundCreated{}).Type() {
		t.Fatal("refund payload reports wrong type")
	}
}
