// Package client is a memcached client built for pipelining. Commands to
// the same server share one connection and one reply stream; batches across
// servers run concurrently under a single deadline. Key assignment is
// deterministic per configuration and never reacts to server health.
package client

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shardpipe/shardpipe/internal"
)

const maxKeyLen = 250

// minCASVersion is the oldest server release that understands cas, gets,
// append and prepend.
var minCASVersion = [3]int{1, 2, 4}

// Client is a connection-per-server memcached client. It is safe for
// concurrent use; independent goroutines share the pipelined connections.
type Client struct {
	cfg      Config
	servers  []server
	selector Selector
	failures *failureManager
	engines  []*internal.Engine
	xform    *transformer
	metrics  *Metrics
	stats    *internal.Stats

	verMu    sync.Mutex
	versions []*[3]int

	closeMu sync.Mutex
	closed  bool
}

// New builds a client from cfg. No connection is made until the first
// command needs one.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	servers, err := resolveServers(cfg.Servers)
	if err != nil {
		return nil, err
	}
	sel, err := buildSelector(cfg, servers)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		servers:  servers,
		selector: sel,
		failures: newFailureManager(len(servers), cfg.MaxFailures, cfg.FailureWindow),
		xform:    buildTransformer(cfg),
		metrics:  cfg.Metrics,
		stats:    cfg.Metrics.stats(),
		versions: make([]*[3]int, len(servers)),
	}
	opts := internal.Options{
		ConnectTimeout: effectiveTimeout(cfg.ConnectTimeout),
		MaxConcurrent:  cfg.MaxConcurrent,
		CloseOnError:   cfg.CloseOnError,
		Logger:         cfg.Logger,
		Stats:          c.stats,
	}
	c.engines = make([]*internal.Engine, len(servers))
	for i, s := range servers {
		c.engines[i] = internal.NewEngine(s.addr, i, c.failures, opts)
	}
	return c, nil
}

// effectiveTimeout maps the config convention onto the wire one: NoTimeout
// and any other negative value mean no deadline, which the mechanisms below
// express as zero.
func effectiveTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func (c *Client) ioTimeout() time.Duration { return effectiveTimeout(c.cfg.IOTimeout) }

// Servers returns the canonical addresses of the configured pool, in
// configuration order.
func (c *Client) Servers() []string {
	out := make([]string, len(c.servers))
	for i, s := range c.servers {
		out[i] = s.addr.String()
	}
	return out
}

// Close drains outstanding replies and tears down every connection. Further
// calls on the client return ErrClientClosed.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	var wg sync.WaitGroup
	for _, e := range c.engines {
		wg.Add(1)
		go func(e *internal.Engine) {
			defer wg.Done()
			e.Drain(c.ioTimeout())
			e.Shutdown()
		}(e)
	}
	wg.Wait()
	return nil
}

func (c *Client) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// legalKey mirrors the server's key rules: at most 250 bytes, no
// whitespace, no control characters.
func legalKey(key string) bool {
	if len(key) == 0 || len(key) > maxKeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

// route validates a key and resolves the engine that owns it. The returned
// key is the namespaced form sent on the wire.
func (c *Client) route(key string) (*internal.Engine, string, error) {
	if c.isClosed() {
		return nil, "", ErrClientClosed
	}
	wire := c.cfg.Namespace + key
	if !legalKey(wire) {
		return nil, "", ErrMalformedKey
	}
	idx, err := c.selector.Pick(wire)
	if err != nil {
		return nil, "", err
	}
	return c.engines[idx], wire, nil
}

// await1 waits for a single reply under the configured deadline.
func (c *Client) await1(ch <-chan internal.Reply) internal.Reply {
	return internal.AwaitAll([]internal.Waiter{{Ch: ch}}, c.ioTimeout(), c.stats)[0]
}

// Set writes a value unconditionally.
func (c *Client) Set(key string, value any, exptime int) (MutationResult, error) {
	return c.store("set", key, value, exptime)
}

// Add writes a value only if the key is absent.
func (c *Client) Add(key string, value any, exptime int) (MutationResult, error) {
	return c.store("add", key, value, exptime)
}

// Replace writes a value only if the key is present.
func (c *Client) Replace(key string, value any, exptime int) (MutationResult, error) {
	return c.store("replace", key, value, exptime)
}

// Append concatenates raw bytes after an existing value. The stored flag
// word is not touched, so appending to an encoded or compressed value
// corrupts it; use it on []byte and string values.
func (c *Client) Append(key string, value any, exptime int) (MutationResult, error) {
	return c.store("append", key, value, exptime)
}

// Prepend concatenates raw bytes before an existing value. The same flag
// word caveat as Append applies.
func (c *Client) Prepend(key string, value any, exptime int) (MutationResult, error) {
	return c.store("prepend", key, value, exptime)
}

func (c *Client) store(verb, key string, value any, exptime int) (MutationResult, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return MutationError, err
	}
	if verb == "append" || verb == "prepend" {
		if err := c.requireCASSupport(eng); err != nil {
			return MutationError, err
		}
	}
	data, flags, err := c.xform.encode(key, value)
	if err != nil {
		return MutationError, err
	}
	c.metrics.request()
	frame := internal.StoreCommand(verb, wire, flags, exptime, data)
	if c.cfg.Nowait {
		if err := eng.FireAndForget(internal.KindStore, frame); err != nil {
			return MutationError, err
		}
		return Stored, nil
	}
	ch, err := eng.Dispatch(internal.KindStore, frame)
	if err != nil {
		return MutationError, err
	}
	return mutationReply(c.await1(ch))
}

// CompareAndSwap stores a value only if the item has not changed since it
// was read with GetWithCAS. Exists reports a lost race, NotFound a key that
// vanished.
func (c *Client) CompareAndSwap(key string, value any, exptime int, cas uint64) (MutationResult, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return MutationError, err
	}
	if err := c.requireCASSupport(eng); err != nil {
		return MutationError, err
	}
	data, flags, err := c.xform.encode(key, value)
	if err != nil {
		return MutationError, err
	}
	c.metrics.request()
	ch, err := eng.Dispatch(internal.KindStore, internal.CasCommand(wire, flags, exptime, cas, data))
	if err != nil {
		return MutationError, err
	}
	return mutationReply(c.await1(ch))
}

// Delete removes a key. NotFound is a verdict, not an error.
func (c *Client) Delete(key string) (MutationResult, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return MutationError, err
	}
	c.metrics.request()
	frame := internal.DeleteCommand(wire)
	if c.cfg.Nowait {
		if err := eng.FireAndForget(internal.KindDelete, frame); err != nil {
			return MutationError, err
		}
		return Deleted, nil
	}
	ch, err := eng.Dispatch(internal.KindDelete, frame)
	if err != nil {
		return MutationError, err
	}
	return mutationReply(c.await1(ch))
}

// Touch updates a key's expiration without transferring the value.
func (c *Client) Touch(key string, exptime int) (MutationResult, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return MutationError, err
	}
	c.metrics.request()
	frame := internal.TouchCommand(wire, exptime)
	if c.cfg.Nowait {
		if err := eng.FireAndForget(internal.KindTouch, frame); err != nil {
			return MutationError, err
		}
		return Touched, nil
	}
	ch, err := eng.Dispatch(internal.KindTouch, frame)
	if err != nil {
		return MutationError, err
	}
	return mutationReply(c.await1(ch))
}

// Increment adds delta to a numeric value and returns the new value. The
// key must exist; ErrCacheMiss reports an absent one.
func (c *Client) Increment(key string, delta uint64) (uint64, error) {
	return c.arith("incr", key, delta)
}

// Decrement subtracts delta from a numeric value and returns the new value.
// The server floors the result at zero instead of wrapping.
func (c *Client) Decrement(key string, delta uint64) (uint64, error) {
	return c.arith("decr", key, delta)
}

func (c *Client) arith(verb, key string, delta uint64) (uint64, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return 0, err
	}
	c.metrics.request()
	ch, err := eng.Dispatch(internal.KindArith, internal.ArithCommand(verb, wire, delta))
	if err != nil {
		return 0, err
	}
	r := c.await1(ch)
	if r.Err != nil {
		return 0, r.Err
	}
	if r.Token == "NOT_FOUND" {
		return 0, ErrCacheMiss
	}
	v, err := strconv.ParseUint(r.Token, 10, 64)
	if err != nil {
		return 0, &internal.ProtocolError{Line: r.Token}
	}
	return v, nil
}

// Get retrieves one key. ErrCacheMiss reports absence.
func (c *Client) Get(key string) (Item, error) {
	return c.getOne(key, false)
}

// GetWithCAS retrieves one key along with the cas token needed for
// CompareAndSwap.
func (c *Client) GetWithCAS(key string) (Item, error) {
	return c.getOne(key, true)
}

func (c *Client) getOne(key string, withCAS bool) (Item, error) {
	eng, wire, err := c.route(key)
	if err != nil {
		return Item{}, err
	}
	if withCAS {
		if err := c.requireCASSupport(eng); err != nil {
			return Item{}, err
		}
	}
	c.metrics.request()
	kind := internal.KindGet
	if withCAS {
		kind = internal.KindGets
	}
	ch, err := eng.Dispatch(kind, internal.GetCommand([]string{wire}, withCAS))
	if err != nil {
		return Item{}, err
	}
	r := c.await1(ch)
	if r.Err != nil {
		return Item{}, r.Err
	}
	raw, ok := r.Items[wire]
	if !ok {
		c.metrics.miss()
		return Item{}, ErrCacheMiss
	}
	c.metrics.hit()
	v, err := c.xform.decode(key, raw.Data, raw.Flags, nil)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Value: v, CAS: raw.CAS}, nil
}

// GetMulti retrieves many keys with one round trip per server. The result
// holds only the keys that were present. Per-key failures drop the key and
// are joined into the returned error; a server or timeout error affects
// every key routed to that server.
func (c *Client) GetMulti(keys []string) (map[string]Item, error) {
	return c.getMulti(keys, false)
}

// GetMultiWithCAS is GetMulti over gets, so every item carries a cas token.
func (c *Client) GetMultiWithCAS(keys []string) (map[string]Item, error) {
	return c.getMulti(keys, true)
}

func (c *Client) getMulti(keys []string, withCAS bool) (map[string]Item, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	kind := internal.KindGet
	if withCAS {
		kind = internal.KindGets
	}

	// Group wire keys by owning server, preserving issue order per server.
	perServer := make(map[int][]string)
	userKey := make(map[string]string, len(keys))
	var errs []error
	for _, key := range keys {
		wire := c.cfg.Namespace + key
		if !legalKey(wire) {
			errs = append(errs, &TransformError{Key: key, Stage: "route", Cause: ErrMalformedKey})
			continue
		}
		if _, dup := userKey[wire]; dup {
			continue
		}
		idx, err := c.selector.Pick(wire)
		if err != nil {
			return nil, err
		}
		userKey[wire] = key
		perServer[idx] = append(perServer[idx], wire)
	}

	waiters := make([]internal.Waiter, 0, len(perServer))
	for idx, wires := range perServer {
		eng := c.engines[idx]
		if withCAS {
			if err := c.requireCASSupport(eng); err != nil {
				waiters = append(waiters, internal.Waiter{Err: err})
				continue
			}
		}
		c.metrics.request()
		ch, err := eng.Dispatch(kind, internal.GetCommand(wires, withCAS))
		waiters = append(waiters, internal.Waiter{Ch: ch, Err: err})
	}

	out := make(map[string]Item, len(keys))
	for _, r := range internal.AwaitAll(waiters, c.ioTimeout(), c.stats) {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		for wire, raw := range r.Items {
			key, ok := userKey[wire]
			if !ok {
				continue
			}
			c.metrics.hit()
			v, err := c.xform.decode(key, raw.Data, raw.Flags, nil)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out[key] = Item{Key: key, Value: v, CAS: raw.CAS}
		}
	}
	return out, errors.Join(errs...)
}

// SetMulti stores many pairs with one pipelined pass: every frame is
// written before the first reply is awaited, and the whole batch shares one
// deadline. Outcomes line up with the input slice.
func (c *Client) SetMulti(pairs []KV, exptime int) []MutationOutcome {
	out := make([]MutationOutcome, len(pairs))
	waiters := make([]internal.Waiter, len(pairs))
	fired := make([]bool, len(pairs))
	for i, kv := range pairs {
		out[i].Key = kv.Key
		eng, wire, err := c.route(kv.Key)
		if err != nil {
			waiters[i] = internal.Waiter{Err: err}
			continue
		}
		data, flags, err := c.xform.encode(kv.Key, kv.Value)
		if err != nil {
			waiters[i] = internal.Waiter{Err: err}
			continue
		}
		c.metrics.request()
		frame := internal.StoreCommand("set", wire, flags, exptime, data)
		if c.cfg.Nowait {
			if err := eng.FireAndForget(internal.KindStore, frame); err != nil {
				waiters[i] = internal.Waiter{Err: err}
				continue
			}
			fired[i] = true
			continue
		}
		ch, err := eng.Dispatch(internal.KindStore, frame)
		waiters[i] = internal.Waiter{Ch: ch, Err: err}
	}
	if c.cfg.Nowait {
		for i := range pairs {
			if fired[i] {
				out[i].Result = Stored
			} else {
				out[i].Result = MutationError
				out[i].Err = waiters[i].Err
			}
		}
		return out
	}
	for i, r := range internal.AwaitAll(waiters, c.ioTimeout(), c.stats) {
		out[i].Result, out[i].Err = mutationReply(r)
	}
	return out
}

// DeleteMulti removes many keys with one pipelined pass.
func (c *Client) DeleteMulti(keys []string) []MutationOutcome {
	out := make([]MutationOutcome, len(keys))
	waiters := make([]internal.Waiter, len(keys))
	fired := make([]bool, len(keys))
	for i, key := range keys {
		out[i].Key = key
		eng, wire, err := c.route(key)
		if err != nil {
			waiters[i] = internal.Waiter{Err: err}
			continue
		}
		c.metrics.request()
		frame := internal.DeleteCommand(wire)
		if c.cfg.Nowait {
			if err := eng.FireAndForget(internal.KindDelete, frame); err != nil {
				waiters[i] = internal.Waiter{Err: err}
				continue
			}
			fired[i] = true
			continue
		}
		ch, err := eng.Dispatch(internal.KindDelete, frame)
		waiters[i] = internal.Waiter{Ch: ch, Err: err}
	}
	if c.cfg.Nowait {
		for i := range keys {
			if fired[i] {
				out[i].Result = Deleted
			} else {
				out[i].Result = MutationError
				out[i].Err = waiters[i].Err
			}
		}
		return out
	}
	for i, r := range internal.AwaitAll(waiters, c.ioTimeout(), c.stats) {
		out[i].Result, out[i].Err = mutationReply(r)
	}
	return out
}

// FlushAll invalidates every item on every server. A positive delay is
// staggered across the pool, later-configured servers flushing first, so
// the whole cache does not empty at one instant.
func (c *Client) FlushAll(delay int) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	n := len(c.engines)
	waiters := make([]internal.Waiter, n)
	for i, eng := range c.engines {
		d := delay
		if delay > 0 && n > 1 {
			d = delay * (n - 1 - i) / (n - 1)
		}
		c.metrics.request()
		ch, err := eng.Dispatch(internal.KindFlush, internal.FlushAllCommand(d))
		waiters[i] = internal.Waiter{Ch: ch, Err: err}
	}
	var errs []error
	for _, r := range internal.AwaitAll(waiters, c.ioTimeout(), c.stats) {
		switch {
		case r.Err != nil:
			errs = append(errs, r.Err)
		case r.Token != "OK":
			errs = append(errs, &internal.ProtocolError{Line: r.Token})
		}
	}
	return errors.Join(errs...)
}

// Version asks every server for its version string, keyed by canonical
// address.
func (c *Client) Version() (map[string]string, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	waiters := make([]internal.Waiter, len(c.engines))
	for i, eng := range c.engines {
		c.metrics.request()
		ch, err := eng.Dispatch(internal.KindVersion, internal.VersionCommand())
		waiters[i] = internal.Waiter{Ch: ch, Err: err}
	}
	out := make(map[string]string, len(c.engines))
	var errs []error
	for i, r := range internal.AwaitAll(waiters, c.ioTimeout(), c.stats) {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		out[c.engines[i].Addr()] = r.Token
	}
	return out, errors.Join(errs...)
}

// Ping verifies that every server answers. It is a liveness probe built on
// the version command.
func (c *Client) Ping() error {
	_, err := c.Version()
	return err
}

// requireCASSupport checks, once per server, that the server release
// understands cas, gets, append and prepend.
func (c *Client) requireCASSupport(eng *internal.Engine) error {
	idx := engineIndex(c.engines, eng)
	c.verMu.Lock()
	cached := c.versions[idx]
	c.verMu.Unlock()
	if cached == nil {
		ch, err := eng.Dispatch(internal.KindVersion, internal.VersionCommand())
		if err != nil {
			return err
		}
		r := c.await1(ch)
		if r.Err != nil {
			return r.Err
		}
		v := parseVersion(r.Token)
		c.verMu.Lock()
		c.versions[idx] = &v
		c.verMu.Unlock()
		cached = &v
	}
	if versionLess(*cached, minCASVersion) {
		return ErrServerTooOld
	}
	return nil
}

func engineIndex(engines []*internal.Engine, eng *internal.Engine) int {
	for i, e := range engines {
		if e == eng {
			return i
		}
	}
	return 0
}

// parseVersion reads the leading numeric release components of a version
// string, ignoring suffixes like "-rc1".
func parseVersion(s string) [3]int {
	var v [3]int
	parts := strings.SplitN(s, ".", 3)
	for i, p := range parts {
		j := 0
		for j < len(p) && p[j] >= '0' && p[j] <= '9' {
			j++
		}
		n, err := strconv.Atoi(p[:j])
		if err != nil {
			break
		}
		v[i] = n
	}
	return v
}

func versionLess(a, b [3]int) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// mutationReply maps a wire reply onto a mutation verdict.
func mutationReply(r internal.Reply) (MutationResult, error) {
	if r.Err != nil {
		return MutationError, r.Err
	}
	res := tokenToResult(r.Token)
	if res == MutationError {
		return MutationError, &internal.ProtocolError{Line: r.Token}
	}
	return res, nil
}
