// Package bridge ties an external SIP gateway's JSON event channel to a
// pool of per-user audio mixers, correlating requests and responses by
// uuid and cleaning up mixer assignments when a gateway disconnects.
package bridge

import (
	"net"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/google/uuid"

	ovio "github.com/openvocs/ovio"
	"github.com/openvocs/ovio/internal/bufpool"
	"github.com/openvocs/ovio/internal/jsonproto"
	"github.com/openvocs/ovio/internal/logging"
	"github.com/openvocs/ovio/internal/mixer"
	"github.com/openvocs/ovio/internal/reactor"
)

// DefaultTimeout is the pending-request deadline used when Config
// leaves Timeout unset.
const DefaultTimeout = 10 * time.Second

const readBufSize = 4096

var api = jsoniter.Config{SortMapKeys: true}.Froze()

// LoopDatabase resolves a named multicast loop to its wire address.
type LoopDatabase interface {
	MulticastAddress(loop string) (string, bool)
}

// Whitelist supplies the SIP callers permitted at register time.
type Whitelist interface {
	Callers() []string
}

// Hooks are invoked on bridge-level lifecycle events.
type Hooks struct {
	OnCallNew        func(*CallState)
	OnCallTerminated func(*CallState)
	OnConnected      func(id ConnID, connected bool)
	OnResponse       func(event string, errCode int, payload any)
}

// Config configures a Bridge.
type Config struct {
	Timeout   time.Duration
	Database  LoopDatabase
	Whitelist Whitelist
	Hooks     Hooks
	Logger    *logging.Logger
	Observer  ovio.Observer
}

type wireConn struct {
	id      ConnID
	netConn net.Conn
	parser  *jsonproto.Buffered
}

// Bridge holds all bridge state. It is owned exclusively by the
// reactor thread: every method here is expected to run as (or from)
// a reactor callback, so none of the registries below are guarded by
// a lock.
type Bridge struct {
	reactor  *reactor.Reactor
	mixer    mixer.Mixer
	db       LoopDatabase
	whitelist Whitelist
	hooks    Hooks
	logger   *logging.Logger
	observer ovio.Observer
	timeout  time.Duration

	proxies          map[ConnID]*ProxyInfo
	calls            map[CallID]*CallState
	mixerAssignments map[ConnID]map[UserID]struct{}
	pending          map[string]*PendingRequest
	expired          map[string]*PendingRequest
	conns            map[ConnID]*wireConn
	connectedFired   map[ConnID]bool

	primary    ConnID
	hasPrimary bool
}

// New constructs a Bridge driven by r and backed by m.
func New(r *reactor.Reactor, m mixer.Mixer, cfg Config) *Bridge {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("bridge")
	observer := cfg.Observer
	if observer == nil {
		observer = ovio.NoOpObserver{}
	}

	return &Bridge{
		reactor:          r,
		mixer:            m,
		db:               cfg.Database,
		whitelist:        cfg.Whitelist,
		hooks:            cfg.Hooks,
		logger:           logger,
		observer:         observer,
		timeout:          timeout,
		proxies:          make(map[ConnID]*ProxyInfo),
		calls:            make(map[CallID]*CallState),
		mixerAssignments: make(map[ConnID]map[UserID]struct{}),
		pending:          make(map[string]*PendingRequest),
		expired:          make(map[string]*PendingRequest),
		conns:            make(map[ConnID]*wireConn),
		connectedFired:   make(map[ConnID]bool),
	}
}

// AttachConnection hands a freshly-accepted gateway connection to the
// bridge, registering its fd for read readiness with the reactor.
func (b *Bridge) AttachConnection(netConn net.Conn) (ConnID, error) {
	sc, ok := netConn.(syscall.Conn)
	if !ok {
		return 0, ovio.NewError("bridge.AttachConnection", ovio.ErrInvalidArgument, "connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, ovio.WrapError("bridge.AttachConnection", err)
	}
	var fd int
	if ctrlErr := raw.Control(func(f uintptr) { fd = int(f) }); ctrlErr != nil {
		return 0, ovio.WrapError("bridge.AttachConnection", ctrlErr)
	}

	id := ConnID(fd)
	b.conns[id] = &wireConn{id: id, netConn: netConn, parser: jsonproto.NewBuffered()}

	if err := b.reactor.AcceptHelper(fd, func(fd int, _ reactor.Event) { b.handleReadable(ConnID(fd)) }); err != nil {
		delete(b.conns, id)
		return 0, err
	}
	return id, nil
}

func (b *Bridge) handleReadable(id ConnID) {
	wc, ok := b.conns[id]
	if !ok {
		return
	}

	buf := bufpool.Get(readBufSize)
	defer bufpool.Put(buf)

	n, err := wc.netConn.Read(buf)
	if err != nil || n == 0 {
		b.closeConnection(id)
		return
	}

	data := buf[:n]
	for {
		v, state, derr := wc.parser.Decode(data)
		data = nil
		if derr != nil {
			b.logger.WithErrorKind(ovio.ErrProtocolMismatch).Warnf("bridge: decode error on connection %d: %v", id, derr)
			return
		}
		switch state {
		case jsonproto.Success:
			b.dispatch(id, v)
		case jsonproto.Progress:
			return
		case jsonproto.Mismatch:
			b.logger.WithErrorKind(ovio.ErrProtocolMismatch).Warnf("bridge: protocol mismatch on connection %d", id)
			return
		default:
			return
		}
	}
}

func (b *Bridge) closeConnection(id ConnID) {
	wc, ok := b.conns[id]
	if !ok {
		return
	}
	delete(b.conns, id)
	b.reactor.UnregisterFD(int(id))
	wc.netConn.Close()

	if assigned, ok := b.mixerAssignments[id]; ok {
		for user := range assigned {
			user := user
			b.mixer.Release(user, func(err error) {
				if err != nil {
					b.logger.Warnf("bridge: release on close failed for %s: %v", user, err)
				}
			})
		}
		delete(b.mixerAssignments, id)
	}

	for callID, call := range b.calls {
		if call.Owner == id {
			delete(b.calls, callID)
		}
	}

	delete(b.proxies, id)
	if b.hasPrimary && b.primary == id {
		b.hasPrimary = false
		for other := range b.proxies {
			b.primary = other
			b.hasPrimary = true
			break
		}
	}

	b.fireConnected(id, false)
}

func (b *Bridge) fireConnected(id ConnID, connected bool) {
	if !connected {
		if b.connectedFired[id] {
			return
		}
		b.connectedFired[id] = true
	} else {
		delete(b.connectedFired, id)
	}
	if b.hooks.OnConnected != nil {
		b.hooks.OnConnected(id, connected)
	}
}

func (b *Bridge) dispatch(id ConnID, v any) {
	isResponse, req, resp, err := decodeEnvelope(v)
	if err != nil {
		b.logger.Warnf("bridge: malformed envelope on connection %d: %v", id, err)
		return
	}
	if isResponse {
		b.handleResponse(id, resp)
		return
	}
	b.handleRequest(id, req)
}

func decodeEnvelope(v any) (isResponse bool, req Request, resp Response, err error) {
	m, ok := v.(map[string]any)
	if !ok {
		return false, Request{}, Response{}, ovio.NewError("bridge.decodeEnvelope", ovio.ErrProtocolMismatch, "top-level value is not an object")
	}
	raw, merr := api.Marshal(m)
	if merr != nil {
		return false, Request{}, Response{}, ovio.WrapError("bridge.decodeEnvelope", merr)
	}
	if _, has := m["response"]; has {
		uerr := api.Unmarshal(raw, &resp)
		return true, Request{}, resp, wrapUnmarshalErr(uerr)
	}
	if _, has := m["error"]; has {
		uerr := api.Unmarshal(raw, &resp)
		return true, Request{}, resp, wrapUnmarshalErr(uerr)
	}
	uerr := api.Unmarshal(raw, &req)
	return false, req, Response{}, wrapUnmarshalErr(uerr)
}

func wrapUnmarshalErr(err error) error {
	if err == nil {
		return nil
	}
	return ovio.WrapError("bridge.decodeEnvelope", err)
}

func (b *Bridge) handleRequest(id ConnID, req Request) {
	switch req.Event {
	case "register":
		b.handleRegister(id, req)
	case "get_multicast":
		b.handleGetMulticast(id, req)
	case "acquire":
		b.handleAcquire(id, req)
	case "release":
		b.handleRelease(id, req)
	case "set_singlecast":
		b.handleSetSinglecast(id, req)
	case "notify":
		b.handleNotify(id, req)
	default:
		b.logger.Warnf("bridge: dropping unknown event %q", req.Event)
	}
}

func stringParam(parameter any, key string) (string, bool) {
	m, ok := parameter.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (b *Bridge) writeEnvelope(id ConnID, v any) error {
	wc, ok := b.conns[id]
	if !ok {
		return ovio.NewError("bridge.writeEnvelope", ovio.ErrInvalidArgument, "unknown connection")
	}
	raw, err := api.Marshal(v)
	if err != nil {
		return ovio.WrapError("bridge.writeEnvelope", err)
	}
	if _, werr := wc.netConn.Write(raw); werr != nil {
		return ovio.WrapError("bridge.writeEnvelope", werr)
	}
	return nil
}

func (b *Bridge) sendResponse(id ConnID, event, uuid string, payload any) {
	resp := Response{Event: event, UUID: uuid, Response: payload}
	if err := b.writeEnvelope(id, resp); err != nil {
		b.logger.Warnf("bridge: failed to send response: %v", err)
	}
}

func (b *Bridge) sendError(id ConnID, req Request, code int, desc string) {
	resp := errorResponse(req.Event, req.UUID, code, desc)
	if err := b.writeEnvelope(id, resp); err != nil {
		b.logger.Warnf("bridge: failed to send error response: %v", err)
	}
}

func (b *Bridge) sendRequestTo(id ConnID, event string, parameter any) {
	req := Request{Event: event, UUID: uuid.NewString(), Parameter: parameter}
	if err := b.writeEnvelope(id, req); err != nil {
		b.logger.Warnf("bridge: failed to send %s: %v", event, err)
	}
}

// handleRegister registers the proxy and, if this is the first one
// seen, makes it primary. It then pushes the stored whitelist as a
// batch of permit events, one per caller, in order.
func (b *Bridge) handleRegister(id ConnID, req Request) {
	b.proxies[id] = &ProxyInfo{ConnID: id}
	if !b.hasPrimary {
		b.primary = id
		b.hasPrimary = true
	}
	b.fireConnected(id, true)
	b.sendResponse(id, req.Event, req.UUID, map[string]any{"status": "ok"})

	if b.whitelist == nil {
		return
	}
	for _, caller := range b.whitelist.Callers() {
		b.sendRequestTo(id, "permit", map[string]any{"caller": caller})
	}
}

func (b *Bridge) handleGetMulticast(id ConnID, req Request) {
	loop, ok := stringParam(req.Parameter, "loop")
	if !ok {
		b.sendError(id, req, ParameterError, "missing loop parameter")
		return
	}
	if b.db == nil {
		b.sendError(id, req, UnknownLoopError, "no loop database configured")
		return
	}
	addr, found := b.db.MulticastAddress(loop)
	if !found {
		b.sendError(id, req, UnknownLoopError, "unknown loop: "+loop)
		return
	}
	b.sendResponse(id, req.Event, req.UUID, map[string]any{"loop": loop, "multicast": addr})
}

func (b *Bridge) handleAcquire(id ConnID, req Request) {
	user, ok := stringParam(req.Parameter, "user")
	if !ok {
		b.sendError(id, req, ParameterError, "missing user parameter")
		return
	}

	timerID, err := b.reactor.SetTimer(b.timeout, func() { b.onTimeout(req.UUID) })
	if err != nil {
		b.sendError(id, req, InternalServerErr, err.Error())
		return
	}
	b.pending[req.UUID] = &PendingRequest{
		UUID: req.UUID, Request: req, Source: id,
		Deadline: time.Now().Add(b.timeout), TimerID: timerID, User: UserID(user),
	}

	b.mixer.Acquire(UserID(user), func(acqErr error) {
		b.reactor.Post(func() { b.resolveAcquire(req.UUID, acqErr) })
	})
}

// resolveAcquire completes a pending acquire. It always runs on the
// reactor goroutine, reached from handleAcquire's Mixer.Acquire
// callback via Reactor.Post. If the pending entry is already gone (the request timed out),
// a success here is a late success that must be reversed: the mixer is
// released immediately so no resource leaks.
func (b *Bridge) resolveAcquire(reqUUID string, acqErr error) {
	p, ok := b.pending[reqUUID]
	if !ok {
		if acqErr == nil {
			if exp, ok2 := b.expired[reqUUID]; ok2 {
				delete(b.expired, reqUUID)
				b.mixer.Release(exp.User, func(error) {
					b.reactor.Post(func() { b.observer.ObserveBridge(0, 1, 0) })
				})
			}
		}
		return
	}
	delete(b.pending, reqUUID)
	b.reactor.CancelTimer(p.TimerID)

	if acqErr != nil {
		b.sendError(p.Source, p.Request, ProcessingError, acqErr.Error())
		return
	}

	if b.mixerAssignments[p.Source] == nil {
		b.mixerAssignments[p.Source] = make(map[UserID]struct{})
	}
	b.mixerAssignments[p.Source][p.User] = struct{}{}
	b.observer.ObserveBridge(1, 0, 0)
	b.sendResponse(p.Source, p.Request.Event, reqUUID, map[string]any{"user": string(p.User)})
}

func (b *Bridge) handleRelease(id ConnID, req Request) {
	user, ok := stringParam(req.Parameter, "user")
	if !ok {
		b.sendError(id, req, ParameterError, "missing user parameter")
		return
	}

	timerID, err := b.reactor.SetTimer(b.timeout, func() { b.onTimeout(req.UUID) })
	if err != nil {
		b.sendError(id, req, InternalServerErr, err.Error())
		return
	}
	b.pending[req.UUID] = &PendingRequest{
		UUID: req.UUID, Request: req, Source: id,
		Deadline: time.Now().Add(b.timeout), TimerID: timerID, User: UserID(user),
	}

	b.mixer.Release(UserID(user), func(relErr error) {
		b.reactor.Post(func() { b.resolveRelease(req.UUID, relErr) })
	})
}

func (b *Bridge) resolveRelease(reqUUID string, relErr error) {
	p, ok := b.pending[reqUUID]
	if !ok {
		return
	}
	delete(b.pending, reqUUID)
	b.reactor.CancelTimer(p.TimerID)

	if relErr != nil {
		b.sendError(p.Source, p.Request, ProcessingError, relErr.Error())
		return
	}
	if assigned := b.mixerAssignments[p.Source]; assigned != nil {
		delete(assigned, p.User)
	}
	b.observer.ObserveBridge(0, 1, 0)
	b.sendResponse(p.Source, p.Request.Event, reqUUID, map[string]any{"user": string(p.User)})
}

// onTimeout fires when a pending request's deadline expires. The entry
// is removed before this returns and moved to expired so a late
// response can still trigger compensation.
func (b *Bridge) onTimeout(reqUUID string) {
	p, ok := b.pending[reqUUID]
	if !ok {
		return
	}
	delete(b.pending, reqUUID)
	b.expired[reqUUID] = p
	b.observer.ObserveBridge(0, 0, 1)
	b.sendError(p.Source, p.Request, TimeoutError, "request timed out")
}

// handleSetSinglecast configures the acquired mixer's outbound forward
// to a unicast target and additionally joins it to the loop.
func (b *Bridge) handleSetSinglecast(id ConnID, req Request) {
	user, ok := stringParam(req.Parameter, "user")
	if !ok {
		b.sendError(id, req, ParameterError, "missing user parameter")
		return
	}
	target, ok := stringParam(req.Parameter, "target")
	if !ok {
		b.sendError(id, req, ParameterError, "missing target parameter")
		return
	}
	loop, _ := stringParam(req.Parameter, "loop")

	if err := b.mixer.SetForward(UserID(user), target); err != nil {
		b.sendError(id, req, ProcessingError, err.Error())
		return
	}
	if loop != "" {
		if err := b.mixer.JoinLoop(UserID(user), loop); err != nil {
			b.sendError(id, req, ProcessingError, err.Error())
			return
		}
	}
	b.sendResponse(id, req.Event, req.UUID, map[string]any{"user": user})
}

func (b *Bridge) handleNotify(id ConnID, req Request) {
	kind, _ := stringParam(req.Parameter, "type")
	switch kind {
	case "new_call":
		b.handleNewCall(id, req)
	case "call_terminated":
		b.handleCallTerminated(id, req)
	default:
		b.logger.Warnf("bridge: unknown notify type %q", kind)
	}
}

func (b *Bridge) handleNewCall(id ConnID, req Request) {
	callID, _ := stringParam(req.Parameter, "call_id")
	if callID == "" {
		callID = uuid.NewString()
	}
	loop, _ := stringParam(req.Parameter, "loop")
	to, _ := stringParam(req.Parameter, "to")
	from, _ := stringParam(req.Parameter, "from")

	call := &CallState{CallID: CallID(callID), Loop: loop, To: to, From: from, Owner: id}
	b.calls[call.CallID] = call
	if b.hooks.OnCallNew != nil {
		b.hooks.OnCallNew(call)
	}
}

func (b *Bridge) handleCallTerminated(id ConnID, req Request) {
	callID, _ := stringParam(req.Parameter, "call_id")
	call, ok := b.calls[CallID(callID)]
	if !ok {
		return
	}
	delete(b.calls, CallID(callID))
	if b.hooks.OnCallTerminated != nil {
		b.hooks.OnCallTerminated(call)
	}
}

// handleResponse resolves a reply to one of the bridge's own outbound
// client requests (call/permit/revoke/hangup/list_*/get_status).
func (b *Bridge) handleResponse(id ConnID, resp Response) {
	p, ok := b.pending[resp.UUID]
	if !ok {
		if exp, ok2 := b.expired[resp.UUID]; ok2 && exp.Request.Event == "acquire" && resp.Error == nil {
			delete(b.expired, resp.UUID)
			b.mixer.Release(exp.User, func(error) {
				b.reactor.Post(func() { b.observer.ObserveBridge(0, 1, 0) })
			})
		}
		return
	}
	delete(b.pending, resp.UUID)
	b.reactor.CancelTimer(p.TimerID)

	errCode := NoError
	if resp.Error != nil {
		errCode = resp.Error.Code
	}

	if p.Request.Event == "call" && errCode == NoError {
		if callID, ok := stringParam(resp.Response, "call_id"); ok {
			b.calls[CallID(callID)] = &CallState{CallID: CallID(callID), Owner: p.Source}
		}
	}

	if b.hooks.OnResponse != nil {
		b.hooks.OnResponse(p.Request.Event, errCode, resp.Response)
	}
}
