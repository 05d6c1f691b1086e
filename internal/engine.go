package internal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
)

// State of an engine's connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateBroken
)

// FailurePolicy gates the connector and collects I/O outcomes. It never
// influences key assignment.
type FailurePolicy interface {
	Allow(server int) bool
	OnFailure(server int)
	OnSuccess(server int)
}

// Options are the per-connection knobs the engine needs.
type Options struct {
	ConnectTimeout time.Duration
	MaxConcurrent  int
	CloseOnError   bool
	Logger         *slog.Logger
	Stats          *Stats
}

// Item is one VALUE reply: raw payload bytes plus the flag word and, for
// gets, the cas token.
type Item struct {
	Key   string
	Flags uint32
	Data  []byte
	CAS   uint64
}

// Reply is the parsed outcome of one pipelined command. Token carries
// simple-reply tokens, the decimal result of incr/decr and the version
// string; Items carries retrieval results keyed by the wire key.
type Reply struct {
	Token string
	Items map[string]Item
	Err   error
}

// pendingRequest is one in-flight command. Replies are consumed strictly in
// issue order; a nil channel marks a fire-and-forget request whose reply is
// parsed and discarded.
type pendingRequest struct {
	kind  CommandKind
	ch    chan Reply
	items map[string]Item
}

// Engine drives one connection to one server: it frames outbound commands,
// parses inbound replies and keeps the pipelined request queue aligned with
// the reply stream. It connects lazily on the first dispatch and reconnects
// lazily after a failure; while the failure policy shuns the server,
// dispatching fails fast without a syscall.
type Engine struct {
	addr   Addr
	index  int
	opts   Options
	policy FailurePolicy
	log    *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	rw      *bufio.ReadWriter
	pending *deque.Deque[*pendingRequest]
	nowait  int
	state   State
	gen     uint64
	closed  bool
}

func NewEngine(addr Addr, index int, policy FailurePolicy, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1024
	}
	return &Engine{
		addr:    addr,
		index:   index,
		opts:    opts,
		policy:  policy,
		log:     log,
		pending: deque.NewDeque[*pendingRequest](),
	}
}

// Addr returns the canonical server address.
func (e *Engine) Addr() string { return e.addr.String() }

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingLen returns the number of unconsumed replies, fire-and-forget
// included.
func (e *Engine) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Len()
}

// NowaitCount returns how many issued commands have discarded replies still
// on the wire.
func (e *Engine) NowaitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nowait
}

// Dispatch appends a framed command to the connection and registers a
// pending entry for its reply. The returned channel is buffered so a late
// reply never blocks the parser.
func (e *Engine) Dispatch(kind CommandKind, frame []byte) (<-chan Reply, error) {
	ch := make(chan Reply, 1)
	p := &pendingRequest{kind: kind, ch: ch}
	if err := e.send(p, frame); err != nil {
		return nil, err
	}
	return ch, nil
}

// FireAndForget appends a framed command whose reply will be parsed and
// discarded. The reply still crosses the wire: alignment of later replies
// depends on consuming it.
func (e *Engine) FireAndForget(kind CommandKind, frame []byte) error {
	return e.send(&pendingRequest{kind: kind}, frame)
}

func (e *Engine) send(p *pendingRequest, frame []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.ensureOpenLocked(); err != nil {
		return err
	}
	if e.pending.Len() >= e.opts.MaxConcurrent {
		return ErrConnectionOverloaded
	}
	e.pending.PushBack(p)
	if p.ch == nil {
		e.nowait++
	}
	if _, err := e.rw.Write(frame); err != nil {
		e.failLocked(fmt.Errorf("write: %w", err))
		return err
	}
	if err := e.rw.Flush(); err != nil {
		e.failLocked(fmt.Errorf("flush: %w", err))
		return err
	}
	return nil
}

func (e *Engine) ensureOpenLocked() error {
	if e.state == StateOpen {
		return nil
	}
	if !e.policy.Allow(e.index) {
		return ErrServerShunned
	}
	e.state = StateConnecting
	conn, err := e.addr.Dial(e.opts.ConnectTimeout)
	if err != nil {
		e.state = StateBroken
		e.policy.OnFailure(e.index)
		return err
	}
	e.conn = conn
	e.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	e.pending = deque.NewDeque[*pendingRequest]()
	e.nowait = 0
	e.gen++
	e.state = StateOpen
	e.policy.OnSuccess(e.index)
	e.opts.Stats.connect()
	go e.listen(e.gen, e.rw.Reader)
	return nil
}

// listen is the per-connection reader. It consumes the reply stream and
// fulfils pending entries in FIFO order until the connection dies or a
// reply cannot be classified.
func (e *Engine) listen(gen uint64, r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			e.fail(gen, fmt.Errorf("read: %w", err))
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			e.fail(gen, &ProtocolError{Line: strings.TrimRight(line, "\r\n")})
			return
		}
		switch fields[0] {
		case "VALUE":
			// VALUE <key> <flags> <bytes> [<cas>]
			if len(fields) < 4 {
				e.fail(gen, &ProtocolError{Line: strings.TrimRight(line, "\r\n")})
				return
			}
			flags, ferr := strconv.ParseUint(fields[2], 10, 32)
			size, serr := strconv.Atoi(fields[3])
			if ferr != nil || serr != nil || size < 0 {
				e.fail(gen, &ProtocolError{Line: strings.TrimRight(line, "\r\n")})
				return
			}
			payload := make([]byte, size+2)
			if _, err := io.ReadFull(r, payload); err != nil {
				e.fail(gen, fmt.Errorf("read payload: %w", err))
				return
			}
			item := Item{Key: fields[1], Flags: uint32(flags), Data: payload[:size]}
			if len(fields) >= 5 {
				if cas, err := strconv.ParseUint(fields[4], 10, 64); err == nil {
					item.CAS = cas
				}
			}
			if !e.attach(gen, item, line) {
				return
			}
		case "END":
			if !e.completeGet(gen, line) {
				return
			}
		case "STORED", "NOT_STORED", "EXISTS", "NOT_FOUND", "DELETED", "TOUCHED", "OK":
			if !e.complete(gen, Reply{Token: fields[0]}, line) {
				return
			}
		case "VERSION":
			if len(fields) < 2 {
				e.fail(gen, &ProtocolError{Line: strings.TrimRight(line, "\r\n")})
				return
			}
			if !e.complete(gen, Reply{Token: fields[1]}, line) {
				return
			}
		case "ERROR", "CLIENT_ERROR", "SERVER_ERROR":
			msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimRight(line, "\r\n"), fields[0]))
			serr := &ServerError{Kind: fields[0], Message: msg}
			if !e.complete(gen, Reply{Err: serr}, line) {
				return
			}
			if e.opts.CloseOnError {
				e.fail(gen, serr)
				return
			}
		default:
			if isDecimal(fields[0]) {
				// incr/decr result
				if !e.complete(gen, Reply{Token: fields[0]}, line) {
					return
				}
				continue
			}
			e.fail(gen, &ProtocolError{Line: strings.TrimRight(line, "\r\n")})
			return
		}
	}
}

// attach adds a VALUE item to the head retrieval request.
func (e *Engine) attach(gen uint64, item Item, line string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	if e.pending.IsEmpty() {
		e.failLocked(&ProtocolError{Line: strings.TrimRight(line, "\r\n")})
		return false
	}
	head, _ := e.pending.Front()
	if head.kind != KindGet && head.kind != KindGets {
		e.failLocked(&ProtocolError{Line: strings.TrimRight(line, "\r\n")})
		return false
	}
	if head.items == nil {
		head.items = make(map[string]Item)
	}
	head.items[item.Key] = item
	return true
}

// completeGet pops the head retrieval request on END. Keys the server did
// not return are absences, not errors.
func (e *Engine) completeGet(gen uint64, line string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	if e.pending.IsEmpty() {
		e.failLocked(&ProtocolError{Line: strings.TrimRight(line, "\r\n")})
		return false
	}
	head, _ := e.pending.Front()
	if head.kind != KindGet && head.kind != KindGets {
		e.failLocked(&ProtocolError{Line: strings.TrimRight(line, "\r\n")})
		return false
	}
	e.pending.PopFront()
	e.deliverLocked(head, Reply{Items: head.items})
	return true
}

// complete pops the head request and delivers a simple reply.
func (e *Engine) complete(gen uint64, r Reply, line string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	if e.pending.IsEmpty() {
		e.failLocked(&ProtocolError{Line: strings.TrimRight(line, "\r\n")})
		return false
	}
	head := e.pending.PopFront()
	e.deliverLocked(head, r)
	return true
}

func (e *Engine) deliverLocked(p *pendingRequest, r Reply) {
	if p.ch == nil {
		e.nowait--
		e.opts.Stats.discard()
		return
	}
	p.ch <- r
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.failLocked(err)
}

// failLocked breaks the connection: every pending reply that had not
// arrived is reported as an error for its owning request, and nothing more
// is sent or consumed until the next dispatch reopens.
func (e *Engine) failLocked(err error) {
	if e.state != StateOpen && e.state != StateConnecting {
		return
	}
	e.log.Warn("connection failed", "server", e.addr.String(), "error", err)
	e.state = StateBroken
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.gen++ // orphan the listener
	for !e.pending.IsEmpty() {
		p := e.pending.PopFront()
		if p.ch == nil {
			e.nowait--
			continue
		}
		p.ch <- Reply{Err: fmt.Errorf("%w: %v", ErrConnectionReset, err)}
	}
	e.policy.OnFailure(e.index)
	e.opts.Stats.failure()
}

// Drain waits until every outstanding reply, fire-and-forget included, has
// been consumed, so server-side work is not lost on shutdown. A zero
// timeout waits indefinitely.
func (e *Engine) Drain(timeout time.Duration) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		e.mu.Lock()
		n := e.pending.Len()
		st := e.state
		e.mu.Unlock()
		if n == 0 || st != StateOpen {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Shutdown closes the connection and errors out anything still pending.
// Unlike an I/O failure it is not reported to the failure policy.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.gen++
	for !e.pending.IsEmpty() {
		p := e.pending.PopFront()
		if p.ch == nil {
			e.nowait--
			continue
		}
		p.ch <- Reply{Err: ErrEngineClosed}
	}
	e.state = StateDisconnected
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
