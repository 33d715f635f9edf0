package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base carries the connection shared by repositories that also run inside
// caller-owned transactions.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx when one is supplied.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Tx rebinds the base to tx. A nil tx keeps the current connection.
func (b Base) Tx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
