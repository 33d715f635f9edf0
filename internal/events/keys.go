package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/marginguard-backend/pkg/enums"
)

// KeyExtractor derives the upstream natural key from a decoded payload.
type KeyExtractor func(Payload) (string, error)

type keySpec struct {
	version int
	extract KeyExtractor
}

// keyExtractors holds every published extractor per event type, oldest first.
// A change to an upstream payload shape appends a new version; existing
// versions stay so stored keys can be recomputed.
var keyExtractors = map[enums.EventType][]keySpec{
	enums.EventTypeOrderCreated: {
		{version: 1, extract: func(p Payload) (string, error) {
			return required("order_id", p.(OrderCreated).OrderID)
		}},
	},
	enums.EventTypeRefundCreated: {
		{version: 1, extract: func(p Payload) (string, error) {
			return required("refund_id", p.(RefundCreated).RefundID)
		}},
	},
	enums.EventTypeAdSpendRecorded: {
		{version: 1, extract: func(p Payload) (string, error) {
			spend := p.(AdSpendRecorded)
			if id := strings.TrimSpace(spend.SpendID); id != "" {
				return id, nil
			}
			if spend.Platform == "" || spend.CampaignID == "" || spend.Date == "" {
				return "", fmt.Errorf("%w: ad spend key needs platform, campaign_id and date", ErrInvalidPayload)
			}
			return strings.Join([]string{spend.Platform, spend.CampaignID, spend.Date}, ":"), nil
		}},
	},
	enums.EventTypeManualEntry: {
		{version: 1, extract: func(p Payload) (string, error) {
			return required("entry_id", p.(ManualEntry).EntryID)
		}},
	},
	enums.EventTypeAppDisconnected: {
		{version: 1, extract: func(p Payload) (string, error) {
			disconnect := p.(AppDisconnected)
			id, err := required("connection_id", disconnect.ConnectionID)
			if err != nil {
				return "", err
			}
			return id + ":" + disconnect.DisconnectedAt.UTC().Format(time.RFC3339), nil
		}},
	},
}

// NaturalKey returns the key and extractor version used for deduplication.
func NaturalKey(p Payload) (string, int, error) {
	specs := keyExtractors[p.Type()]
	if len(specs) == 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownEventType, p.Type())
	}
	current := specs[len(specs)-1]
	key, err := current.extract(p)
	if err != nil {
		return "", 0, err
	}
	return key, current.version, nil
}

// NaturalKeyAt recomputes the key with a specific extractor version.
func NaturalKeyAt(p Payload, version int) (string, error) {
	for _, spec := range keyExtractors[p.Type()] {
		if spec.version == version {
			return spec.extract(p)
		}
	}
	return "", fmt.Errorf("no natural key extractor v%d for %s", version, p.Type())
}

func required(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}
	return trimmed, nil
}
