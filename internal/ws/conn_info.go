package ws

import "time"

// ConnInfo describes a subscribed UI feed connection.
type ConnInfo struct {
	ConnID      string
	IP          string
	RequestID   string
	ConnectedAt time.Time
}
