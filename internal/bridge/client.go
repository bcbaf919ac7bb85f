package bridge

import (
	"time"

	"github.com/google/uuid"

	ovio "github.com/openvocs/ovio"
)

// primaryConn returns the current primary proxy connection.
func (b *Bridge) primaryConn() (ConnID, error) {
	if !b.hasPrimary {
		return 0, ovio.NewError("bridge.primaryConn", ovio.ErrInvalidArgument, "no registered proxy")
	}
	return b.primary, nil
}

func (b *Bridge) dispatchClientRequest(conn ConnID, event string, parameter any) (string, error) {
	req := Request{Event: event, UUID: uuid.NewString(), Parameter: parameter}

	timerID, err := b.reactor.SetTimer(b.timeout, func() { b.onTimeout(req.UUID) })
	if err != nil {
		return "", err
	}
	b.pending[req.UUID] = &PendingRequest{
		UUID: req.UUID, Request: req, Source: conn, Deadline: time.Now().Add(b.timeout), TimerID: timerID,
	}
	if werr := b.writeEnvelope(conn, req); werr != nil {
		b.reactor.CancelTimer(timerID)
		delete(b.pending, req.UUID)
		return "", werr
	}
	return req.UUID, nil
}

// CreateCall sends a call request on the primary proxy connection.
// Once its response names a call-id, the call's owning connection is
// recorded so a later TerminateCall is routed correctly.
func (b *Bridge) CreateCall(loop, to, from string) (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "call", map[string]any{"loop": loop, "to": to, "from": from})
}

// TerminateCall sends a hangup request routed to the call's owning
// connection, falling back to the primary proxy if the call is
// unknown.
func (b *Bridge) TerminateCall(callID CallID) (string, error) {
	conn := b.primary
	if call, ok := b.calls[callID]; ok {
		conn = call.Owner
	} else {
		var err error
		conn, err = b.primaryConn()
		if err != nil {
			return "", err
		}
	}
	return b.dispatchClientRequest(conn, "hangup", map[string]any{"call_id": string(callID)})
}

// CreatePermission sends a permit request on the primary proxy
// connection.
func (b *Bridge) CreatePermission(spec map[string]any) (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "permit", spec)
}

// TerminatePermission sends a revoke request on the primary proxy
// connection.
func (b *Bridge) TerminatePermission(spec map[string]any) (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "revoke", spec)
}

// ListCalls requests the gateway's active call list.
func (b *Bridge) ListCalls() (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "list_calls", nil)
}

// ListPermissions requests the gateway's current permission set.
func (b *Bridge) ListPermissions() (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "list_permissions", nil)
}

// GetStatus requests the gateway's status.
func (b *Bridge) GetStatus() (string, error) {
	conn, err := b.primaryConn()
	if err != nil {
		return "", err
	}
	return b.dispatchClientRequest(conn, "get_status", nil)
}
