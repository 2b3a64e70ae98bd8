package domain

import "time"

// AdminSession is an operator console session tracked for expiry.
type AdminSession struct {
	ID        string
	AdminID   int64
	Token     string
	IsActive  bool
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
