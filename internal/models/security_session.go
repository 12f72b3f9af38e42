package models

import (
	"net"
	"time"
)

// SecuritySession is one authenticated session. A user may hold a bounded
// number of active sessions; the oldest is deactivated on overflow.
type SecuritySession struct {
	UserID       string    `db:"user_id" json:"user_id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	IPAddress    net.IP    `db:"ip_address" json:"ip_address"`
	UserAgent    string    `db:"user_agent" json:"user_agent"`
	MFAVerified  bool      `db:"mfa_verified" json:"mfa_verified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// ExpiredAt reports whether the session has passed its idle timeout at
// the supplied instant.
func (s *SecuritySession) ExpiredAt(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(s.LastActivity) > idleTimeout
}
