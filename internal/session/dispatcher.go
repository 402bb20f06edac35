package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexgram/nexgram/internal/crypto"
	"github.com/nexgram/nexgram/internal/transport"
	"github.com/nexgram/nexgram/pkg/tl"
)

// Call failure modes surfaced by the dispatcher. ErrDisconnected is
// retryable; the retry layer resubmits such calls after reconnecting.
var (
	ErrDisconnected = errors.New("session: connection dropped")
	ErrNotRunning   = errors.New("session: connection not running")
)

// UpdateSink receives server-originated payloads that are not answers to
// any pending call. Delivery must not block the read loop.
type UpdateSink interface {
	Deliver(body []byte)
}

// Config configures a Conn.
type Config struct {
	Framer transport.Framer
	State  *State
	Sink   UpdateSink
	Logger *slog.Logger

	// AckFlushInterval bounds how long received message ids wait before
	// being acknowledged. Zero means 500ms.
	AckFlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.AckFlushInterval <= 0 {
		c.AckFlushInterval = 500 * time.Millisecond
	}
	return c
}

type callResult struct {
	data []byte
	err  error
}

// pendingCall tracks one in-flight RPC from submission to its single
// terminal resolution.
type pendingCall struct {
	req     tl.Object
	msgID   int64
	sentAt  time.Time
	resends int
	done    chan callResult
}

// Conn is the dispatcher for one encrypted connection: it assigns message
// ids, tracks in-flight calls, matches responses by id regardless of
// arrival order, and forwards unsolicited payloads to the update sink.
type Conn struct {
	cfg    Config
	state  *State
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int64]*pendingCall
	running bool

	ackMu    sync.Mutex
	ackQueue []int64
}

// NewConn creates a dispatcher over an established framer. Run must be
// called before Invoke.
func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:     cfg,
		state:   cfg.State,
		logger:  cfg.Logger.With("component", "session"),
		pending: make(map[int64]*pendingCall),
	}
}

// SessionID exposes the session id for logging and status reporting.
func (c *Conn) SessionID() int64 { return c.state.ID() }

// SetSalt installs a server salt obtained out of band, e.g. from the
// future-salts maintenance job.
func (c *Conn) SetSalt(salt int64) { c.state.SetSalt(salt) }

// Run drives the read loop until ctx is cancelled or the connection
// fails. On return every pending call is resolved with ErrDisconnected
// so the retry layer can resubmit them on a fresh connection.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.ackLoop(ctx)

	var loopErr error
	for {
		frame, err := c.cfg.Framer.Recv(ctx)
		if err != nil {
			loopErr = err
			break
		}
		env, err := crypto.Decrypt(c.state.AuthKey(), frame, crypto.SideServer)
		if err != nil {
			// Failed authentication is connection corruption: drop the
			// connection rather than guessing at the frame.
			var integrity *crypto.IntegrityError
			if errors.As(err, &integrity) {
				c.logger.Error("frame failed integrity check, closing connection", "error", err)
				loopErr = err
				break
			}
			loopErr = err
			break
		}
		if env.SessionID != c.state.ID() {
			c.logger.Warn("frame for foreign session dropped", "session_id", env.SessionID)
			continue
		}
		c.handleMessage(ctx, env.MsgID, env.SeqNo, env.Body)
	}

	c.mu.Lock()
	c.running = false
	calls := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.mu.Unlock()

	for _, p := range calls {
		p.done <- callResult{err: ErrDisconnected}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return loopErr
}

// Invoke submits one call and blocks until its response, an RPC error,
// ctx expiry, or disconnection. The context deadline is the caller's
// timeout; a late response arriving after expiry is discarded by the
// read loop, never delivered.
func (c *Conn) Invoke(ctx context.Context, req tl.Object) ([]byte, error) {
	p, err := c.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-p.done:
		return res.data, res.err
	case <-ctx.Done():
		c.forgetCall(p)
		return nil, ctx.Err()
	}
}

// forgetCall unregisters a call the caller gave up on. The id is read
// under the lock because a concurrent resend may reassign it.
func (c *Conn) forgetCall(p *pendingCall) {
	c.mu.Lock()
	if c.pending[p.msgID] == p {
		delete(c.pending, p.msgID)
	}
	c.mu.Unlock()
}

// send serializes, encrypts, frames, and registers the call.
func (c *Conn) send(ctx context.Context, req tl.Object, contentRelated bool) (*pendingCall, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	msgID := c.state.NextMsgID()
	seqNo := c.state.NextSeqNo(contentRelated)
	p := &pendingCall{
		req:    req,
		msgID:  msgID,
		sentAt: time.Now(),
		done:   make(chan callResult, 1),
	}
	c.pending[msgID] = p
	c.mu.Unlock()

	if err := c.transmit(ctx, msgID, seqNo, req); err != nil {
		c.forget(msgID)
		return nil, err
	}
	return p, nil
}

func (c *Conn) transmit(ctx context.Context, msgID int64, seqNo int32, req tl.Object) error {
	payload, err := crypto.Encrypt(c.state.AuthKey(), crypto.Envelope{
		Salt:      c.state.Salt(),
		SessionID: c.state.ID(),
		MsgID:     msgID,
		SeqNo:     seqNo,
		Body:      tl.Marshal(req),
	}, crypto.SideClient)
	if err != nil {
		return fmt.Errorf("session: encrypt: %w", err)
	}
	return c.cfg.Framer.Send(ctx, payload)
}

// resend re-submits a registered call under a fresh message id, keeping
// its completion slot. Used after salt rotation and clock-skew rejections.
func (c *Conn) resend(ctx context.Context, p *pendingCall) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		p.done <- callResult{err: ErrDisconnected}
		return
	}
	msgID := c.state.NextMsgID()
	seqNo := c.state.NextSeqNo(true)
	p.msgID = msgID
	p.resends++
	c.pending[msgID] = p
	c.mu.Unlock()

	if err := c.transmit(ctx, msgID, seqNo, p.req); err != nil {
		c.forget(msgID)
		p.done <- callResult{err: ErrDisconnected}
	}
}

// forget drops a pending entry without resolving it.
func (c *Conn) forget(msgID int64) {
	c.mu.Lock()
	delete(c.pending, msgID)
	c.mu.Unlock()
}

// take removes and returns the pending entry for msgID.
func (c *Conn) take(msgID int64) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[msgID]
	if ok {
		delete(c.pending, msgID)
	}
	return p, ok
}

// handleMessage routes one decrypted message body. Containers recurse;
// service messages resolve or adjust session state; everything else is an
// update and goes to the sink.
func (c *Conn) handleMessage(ctx context.Context, msgID int64, seqNo int32, body []byte) {
	if seqNo%2 == 1 {
		c.queueAck(msgID)
	}

	body, err := tl.UnwrapGzip(body)
	if err != nil {
		c.logger.Warn("dropping undecodable compressed message", "msg_id", msgID, "error", err)
		return
	}
	if len(body) < 4 {
		c.logger.Warn("dropping short message", "msg_id", msgID)
		return
	}

	switch binary.LittleEndian.Uint32(body) {
	case tl.IDMsgContainer:
		obj, err := tl.Unmarshal(body)
		if err != nil {
			c.logger.Warn("dropping malformed container", "error", err)
			return
		}
		for _, m := range obj.(*tl.Container).Messages {
			c.handleMessage(ctx, m.MsgID, m.SeqNo, m.Body)
		}

	case tl.IDRPCResult:
		c.handleRPCResult(body)

	case tl.IDPong:
		var pong tl.Pong
		d := tl.NewDecoder(body[4:])
		if err := pong.Decode(d); err != nil {
			c.logger.Warn("dropping malformed pong", "error", err)
			return
		}
		c.resolve(pong.MsgID, callResult{data: body})

	case tl.IDBadServerSalt:
		var bad tl.BadServerSalt
		d := tl.NewDecoder(body[4:])
		if err := bad.Decode(d); err != nil {
			c.logger.Warn("dropping malformed bad_server_salt", "error", err)
			return
		}
		c.state.SetSalt(bad.NewServerSalt)
		c.logger.Debug("server salt rotated", "bad_msg_id", bad.BadMsgID)
		if p, ok := c.take(bad.BadMsgID); ok {
			c.resend(ctx, p)
		}

	case tl.IDBadMsgNotify:
		var bad tl.BadMsgNotification
		d := tl.NewDecoder(body[4:])
		if err := bad.Decode(d); err != nil {
			c.logger.Warn("dropping malformed bad_msg_notification", "error", err)
			return
		}
		c.handleBadMsg(ctx, &bad)

	case tl.IDNewSessionCreated:
		var created tl.NewSessionCreated
		d := tl.NewDecoder(body[4:])
		if err := created.Decode(d); err != nil {
			return
		}
		c.state.SetSalt(created.ServerSalt)
		c.logger.Debug("server opened new session", "unique_id", created.UniqueID)

	case tl.IDMsgsAck:
		// Receipt confirmation only; never resolves a call.

	case tl.IDFutureSalts:
		var salts tl.FutureSalts
		d := tl.NewDecoder(body[4:])
		if err := salts.Decode(d); err != nil {
			return
		}
		c.resolve(salts.ReqMsgID, callResult{data: body})

	case tl.IDMsgsStateInfo:
		var info tl.MsgsStateInfo
		d := tl.NewDecoder(body[4:])
		if err := info.Decode(d); err != nil {
			return
		}
		c.resolve(info.ReqMsgID, callResult{data: body})

	default:
		if c.cfg.Sink != nil {
			c.cfg.Sink.Deliver(body)
		}
	}
}

func (c *Conn) handleRPCResult(body []byte) {
	var res tl.RPCResult
	d := tl.NewDecoder(body[4:])
	if err := res.Decode(d); err != nil {
		c.logger.Warn("dropping malformed rpc_result", "error", err)
		return
	}

	result, err := tl.UnwrapGzip(res.Result)
	if err != nil {
		c.resolve(res.ReqMsgID, callResult{err: err})
		return
	}

	if len(result) >= 4 && binary.LittleEndian.Uint32(result) == tl.IDRPCError {
		var rpcErr tl.RPCError
		d := tl.NewDecoder(result[4:])
		if err := rpcErr.Decode(d); err != nil {
			c.resolve(res.ReqMsgID, callResult{err: err})
			return
		}
		c.resolve(res.ReqMsgID, callResult{err: &rpcErr})
		return
	}
	c.resolve(res.ReqMsgID, callResult{data: result})
}

// resolve completes a pending call exactly once. A response for an
// unknown id — duplicate or past its caller's timeout — is a protocol
// anomaly: logged and discarded, never propagated.
func (c *Conn) resolve(msgID int64, res callResult) {
	p, ok := c.take(msgID)
	if !ok {
		c.logger.Warn("response for unknown message id discarded", "msg_id", msgID)
		return
	}
	p.done <- res
}

// handleBadMsg reacts to message-level rejections. Clock-skew codes
// (16, 17) are fixed by reallocating the message id; everything else
// fails the call.
func (c *Conn) handleBadMsg(ctx context.Context, bad *tl.BadMsgNotification) {
	p, ok := c.take(bad.BadMsgID)
	if !ok {
		c.logger.Warn("bad_msg_notification for unknown message id", "msg_id", bad.BadMsgID)
		return
	}
	switch bad.ErrorCode {
	case 16, 17:
		if p.resends < 2 {
			c.resend(ctx, p)
			return
		}
		p.done <- callResult{err: fmt.Errorf("session: message id repeatedly rejected (code %d)", bad.ErrorCode)}
	default:
		p.done <- callResult{err: fmt.Errorf("session: message rejected by server (code %d)", bad.ErrorCode)}
	}
}

func (c *Conn) queueAck(msgID int64) {
	c.ackMu.Lock()
	c.ackQueue = append(c.ackQueue, msgID)
	c.ackMu.Unlock()
}

// ackLoop periodically flushes accumulated acknowledgements as one
// msgs_ack service message.
func (c *Conn) ackLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.AckFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flushAcks(ctx)
		}
	}
}

func (c *Conn) flushAcks(ctx context.Context) {
	c.ackMu.Lock()
	ids := c.ackQueue
	c.ackQueue = nil
	c.ackMu.Unlock()
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	msgID := c.state.NextMsgID()
	seqNo := c.state.NextSeqNo(false)
	c.mu.Unlock()

	if err := c.transmit(ctx, msgID, seqNo, &tl.MsgsAck{MsgIDs: ids}); err != nil {
		c.logger.Debug("ack flush failed", "error", err)
	}
}

// PendingCount reports the number of in-flight calls, for status views.
func (c *Conn) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
