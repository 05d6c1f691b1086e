package client

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeItem is one stored entry of the in-memory test server.
type fakeItem struct {
	flags uint32
	data  []byte
	cas   uint64
}

// fakeMemcached is a minimal in-process memcached speaking enough of the
// text protocol to exercise the client without a real daemon.
type fakeMemcached struct {
	ln      net.Listener
	version string

	mu      sync.Mutex
	items   map[string]fakeItem
	casSeq  uint64
	flushes []int
}

func newFakeMemcached(t *testing.T) *fakeMemcached {
	t.Helper()
	return newFakeMemcachedVersion(t, "1.6.21")
}

func newFakeMemcachedVersion(t *testing.T, version string) *fakeMemcached {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeMemcached{
		ln:      ln,
		version: version,
		items:   map[string]fakeItem{},
	}
	t.Cleanup(func() { ln.Close() })
	go s.acceptLoop()
	return s
}

func (s *fakeMemcached) addr() string { return s.ln.Addr().String() }

func (s *fakeMemcached) get(key string) (fakeItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return it, ok
}

func (s *fakeMemcached) keyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fakeMemcached) flushDelays() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.flushes...)
}

func (s *fakeMemcached) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *fakeMemcached) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return
		}
		switch fields[0] {
		case "set", "add", "replace", "append", "prepend":
			s.handleStore(w, r, fields)
		case "cas":
			s.handleCas(w, r, fields)
		case "get":
			s.handleGet(w, fields[1:], false)
		case "gets":
			s.handleGet(w, fields[1:], true)
		case "delete":
			s.handleDelete(w, fields[1])
		case "touch":
			s.handleTouch(w, fields[1])
		case "incr", "decr":
			s.handleArith(w, fields)
		case "flush_all":
			delay := 0
			if len(fields) > 1 {
				delay, _ = strconv.Atoi(fields[1])
			}
			s.mu.Lock()
			s.flushes = append(s.flushes, delay)
			s.items = map[string]fakeItem{}
			s.mu.Unlock()
			w.WriteString("OK\r\n")
		case "version":
			w.WriteString("VERSION " + s.version + "\r\n")
		default:
			w.WriteString("ERROR\r\n")
		}
		w.Flush()
	}
}

func readPayload(r *bufio.Reader, size int) ([]byte, bool) {
	buf := make([]byte, size+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false
	}
	return buf[:size], true
}

func (s *fakeMemcached) handleStore(w *bufio.Writer, r *bufio.Reader, fields []string) {
	if len(fields) < 5 {
		w.WriteString("ERROR\r\n")
		return
	}
	verb, key := fields[0], fields[1]
	flags, _ := strconv.ParseUint(fields[2], 10, 32)
	size, _ := strconv.Atoi(fields[4])
	data, ok := readPayload(r, size)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.items[key]
	switch verb {
	case "add":
		if exists {
			w.WriteString("NOT_STORED\r\n")
			return
		}
	case "replace":
		if !exists {
			w.WriteString("NOT_STORED\r\n")
			return
		}
	case "append":
		if !exists {
			w.WriteString("NOT_STORED\r\n")
			return
		}
		data = append(append([]byte(nil), existing.data...), data...)
		flags = uint64(existing.flags)
	case "prepend":
		if !exists {
			w.WriteString("NOT_STORED\r\n")
			return
		}
		data = append(append([]byte(nil), data...), existing.data...)
		flags = uint64(existing.flags)
	}
	s.casSeq++
	s.items[key] = fakeItem{flags: uint32(flags), data: data, cas: s.casSeq}
	w.WriteString("STORED\r\n")
}

func (s *fakeMemcached) handleCas(w *bufio.Writer, r *bufio.Reader, fields []string) {
	if len(fields) < 6 {
		w.WriteString("ERROR\r\n")
		return
	}
	key := fields[1]
	flags, _ := strconv.ParseUint(fields[2], 10, 32)
	size, _ := strconv.Atoi(fields[4])
	token, _ := strconv.ParseUint(fields[5], 10, 64)
	data, ok := readPayload(r, size)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.items[key]
	switch {
	case !exists:
		w.WriteString("NOT_FOUND\r\n")
	case existing.cas != token:
		w.WriteString("EXISTS\r\n")
	default:
		s.casSeq++
		s.items[key] = fakeItem{flags: uint32(flags), data: data, cas: s.casSeq}
		w.WriteString("STORED\r\n")
	}
}

func (s *fakeMemcached) handleGet(w *bufio.Writer, keys []string, withCAS bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		it, ok := s.items[key]
		if !ok {
			continue
		}
		w.WriteString("VALUE " + key + " " + strconv.FormatUint(uint64(it.flags), 10) +
			" " + strconv.Itoa(len(it.data)))
		if withCAS {
			w.WriteString(" " + strconv.FormatUint(it.cas, 10))
		}
		w.WriteString("\r\n")
		w.Write(it.data)
		w.WriteString("\r\n")
	}
	w.WriteString("END\r\n")
}

func (s *fakeMemcached) handleDelete(w *bufio.Writer, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		w.WriteString("NOT_FOUND\r\n")
		return
	}
	delete(s.items, key)
	w.WriteString("DELETED\r\n")
}

func (s *fakeMemcached) handleTouch(w *bufio.Writer, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		w.WriteString("NOT_FOUND\r\n")
		return
	}
	w.WriteString("TOUCHED\r\n")
}

func (s *fakeMemcached) handleArith(w *bufio.Writer, fields []string) {
	if len(fields) < 3 {
		w.WriteString("ERROR\r\n")
		return
	}
	key := fields[1]
	delta, _ := strconv.ParseUint(fields[2], 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		w.WriteString("NOT_FOUND\r\n")
		return
	}
	cur, err := strconv.ParseUint(strings.TrimSpace(string(it.data)), 10, 64)
	if err != nil {
		w.WriteString("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
		return
	}
	if fields[0] == "incr" {
		cur += delta
	} else if delta > cur {
		cur = 0
	} else {
		cur -= delta
	}
	it.data = []byte(strconv.FormatUint(cur, 10))
	s.casSeq++
	it.cas = s.casSeq
	s.items[key] = it
	w.WriteString(strconv.FormatUint(cur, 10) + "\r\n")
}
