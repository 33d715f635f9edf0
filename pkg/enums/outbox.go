package enums

// OutboxAggregateType names the aggregate an outbox row describes. Consumers
// key ordering and erasure on it.
type OutboxAggregateType string

const AggregateMerchant OutboxAggregateType = "merchant"

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateMerchant
}

// OutboxEventType names a notification published to downstream consumers.
type OutboxEventType string

const (
	EventPlanAssignmentChanged OutboxEventType = "plan_assignment_changed"
	EventMerchantDataPurged    OutboxEventType = "merchant_data_purged"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventPlanAssignmentChanged, EventMerchantDataPurged:
		return true
	}
	return false
}

// OutboxDLQErrorReason records why the publisher stopped retrying a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
