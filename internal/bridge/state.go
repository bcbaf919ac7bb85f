package bridge

import (
	"time"

	"github.com/openvocs/ovio/internal/mixer"
)

// ConnID identifies one proxy (SIP gateway) TCP connection; it is the
// connection's underlying file descriptor.
type ConnID int

// CallID identifies one active call.
type CallID string

// UserID is a per-user mixer identity.
type UserID = mixer.UserID

// ProxyInfo is one registered SIP gateway connection. The first one
// registered is the "primary" gateway returned when any is needed.
type ProxyInfo struct {
	ConnID ConnID
}

// CallState tracks one active call from new_call to call_terminated.
type CallState struct {
	CallID CallID
	Loop   string
	To     string
	From   string
	Owner  ConnID
}

// PendingRequest is an outbound request awaiting its response, indexed
// by uuid.
type PendingRequest struct {
	UUID       string
	Request    Request
	Source     ConnID
	Deadline   time.Time
	TimerID    uint64
	OnTimeout  func(p *PendingRequest)
	User       UserID
	TargetConn ConnID
}
