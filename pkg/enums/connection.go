package enums

import "fmt"

// ConnectionKind classifies an upstream integration.
type ConnectionKind string

const (
	ConnectionKindSalesChannel ConnectionKind = "sales_channel"
	ConnectionKindAdPlatform   ConnectionKind = "ad_platform"
)

// IsValid reports whether the kind is known.
func (k ConnectionKind) IsValid() bool {
	return k == ConnectionKindSalesChannel || k == ConnectionKindAdPlatform
}

// ParseConnectionKind converts raw input into a ConnectionKind.
func ParseConnectionKind(value string) (ConnectionKind, error) {
	kind := ConnectionKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid connection kind %q", value)
	}
	return kind, nil
}

// ConnectionStatus tracks whether an integration is still feeding events.
type ConnectionStatus string

const (
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusPaused       ConnectionStatus = "paused"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// IsValid reports whether the status is known.
func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionStatusActive, ConnectionStatusPaused, ConnectionStatusDisconnected:
		return true
	}
	return false
}
