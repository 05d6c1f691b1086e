package internal

import "strconv"

// CommandKind tells the parser how the reply for a pending request is
// structured. Replies arrive strictly in command order per connection.
type CommandKind int

const (
	KindStore CommandKind = iota
	KindArith
	KindDelete
	KindGet
	KindGets
	KindTouch
	KindFlush
	KindVersion
)

var crlf = []byte("\r\n")

// StoreCommand frames set/add/replace/append/prepend:
// <verb> <key> <flags> <exptime> <bytes>\r\n<payload>\r\n
// The noreply keyword is never used: even discarded replies must be parsed
// to keep pipelined responses aligned.
func StoreCommand(verb, key string, flags uint32, exptime int, value []byte) []byte {
	b := make([]byte, 0, len(verb)+len(key)+len(value)+32)
	b = append(b, verb...)
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(flags), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(exptime), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(len(value)), 10)
	b = append(b, crlf...)
	b = append(b, value...)
	b = append(b, crlf...)
	return b
}

// CasCommand frames a check-and-set store, which carries the cas token
// between the byte count and the payload.
func CasCommand(key string, flags uint32, exptime int, cas uint64, value []byte) []byte {
	b := make([]byte, 0, len(key)+len(value)+48)
	b = append(b, "cas "...)
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(flags), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(exptime), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(len(value)), 10)
	b = append(b, ' ')
	b = strconv.AppendUint(b, cas, 10)
	b = append(b, crlf...)
	b = append(b, value...)
	b = append(b, crlf...)
	return b
}

// GetCommand frames a retrieval for one or more keys on the same server.
// withCAS selects gets, whose VALUE lines carry the cas token.
func GetCommand(keys []string, withCAS bool) []byte {
	n := 5
	for _, k := range keys {
		n += len(k) + 1
	}
	b := make([]byte, 0, n+2)
	if withCAS {
		b = append(b, "gets"...)
	} else {
		b = append(b, "get"...)
	}
	for _, k := range keys {
		b = append(b, ' ')
		b = append(b, k...)
	}
	b = append(b, crlf...)
	return b
}

func ArithCommand(verb, key string, delta uint64) []byte {
	b := make([]byte, 0, len(verb)+len(key)+24)
	b = append(b, verb...)
	b = append(b, ' ')
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendUint(b, delta, 10)
	b = append(b, crlf...)
	return b
}

func DeleteCommand(key string) []byte {
	b := make([]byte, 0, len(key)+10)
	b = append(b, "delete "...)
	b = append(b, key...)
	b = append(b, crlf...)
	return b
}

func TouchCommand(key string, exptime int) []byte {
	b := make([]byte, 0, len(key)+20)
	b = append(b, "touch "...)
	b = append(b, key...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(exptime), 10)
	b = append(b, crlf...)
	return b
}

func FlushAllCommand(delay int) []byte {
	if delay <= 0 {
		return []byte("flush_all\r\n")
	}
	b := make([]byte, 0, 24)
	b = append(b, "flush_all "...)
	b = strconv.AppendInt(b, int64(delay), 10)
	b = append(b, crlf...)
	return b
}

func VersionCommand() []byte {
	return []byte("version\r\n")
}
