package redis

import "strings"

// Every key lives under mg:<kind>:... so a shared instance can be scanned
// or flushed per concern.
const (
	keyNamespace = "mg"

	kindIdempotency = "idempotency"
	kindRateLimit   = "rate_limit"
	kindLock        = "lock"
	kindCheckpoint  = "checkpoint"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(kindIdempotency, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return joinKey(kindRateLimit, scope)
}

func (c *Client) LockKey(name string) string {
	return joinKey(kindLock, name)
}

// CheckpointKey builds the cursor key of a resumable job. Empty parts are skipped.
func (c *Client) CheckpointKey(parts ...string) string {
	return joinKey(kindCheckpoint, parts...)
}

func joinKey(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
