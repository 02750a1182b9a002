// Package protocol implements the RESP request/reply framing spoken between
// the client and its backend servers.
//
// Requests are arrays of bulk strings:
//
//	*<argc+1>\r\n$<len(cmd)>\r\n<cmd>\r\n$<len(arg)>\r\n<arg>\r\n...
//
// Replies are typed values: status strings (+), errors (-), integers (:),
// bulk strings ($, with $-1 as nil) and arrays (*, with *-1 as nil), where
// arrays nest.
//
// Example usage:
//
//	enc := protocol.NewEncoder(conn)
//	if err := enc.Encode("SET", []any{"user:1", []byte{0x00, 0xff}}); err != nil {
//		return err
//	}
//
//	dec := protocol.NewDecoder()
//	replies, err := dec.Feed(buf[:n])
//
// The decoder is incremental: it accepts arbitrary chunks of the byte
// stream and returns every reply completed by the chunk.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrProtocol reports a reply stream that cannot be decoded.
var ErrProtocol = errors.New("protocol error")

// ResponseType represents the type of a reply value.
type ResponseType uint8

// Reply types, one per RESP type marker.
const (
	RespStatus ResponseType = iota // +OK
	RespError                      // -ERR message
	RespInt                        // :42
	RespString                     // $5\r\nhello
	RespArray                      // *2\r\n...
	RespNil                        // $-1 or *-1
)

func (t ResponseType) String() string {
	switch t {
	case RespStatus:
		return "status"
	case RespError:
		return "error"
	case RespInt:
		return "integer"
	case RespString:
		return "bulk"
	case RespArray:
		return "array"
	case RespNil:
		return "nil"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Value is a single decoded reply. Str carries status, error and bulk
// payloads; Int carries integers; Array carries nested values.
type Value struct {
	Type  ResponseType
	Str   string
	Int   int64
	Array []Value
}

// Status builds a status reply.
func Status(s string) Value { return Value{Type: RespStatus, Str: s} }

// Bulk builds a bulk string reply.
func Bulk(s string) Value { return Value{Type: RespString, Str: s} }

// Int builds an integer reply.
func Int(n int64) Value { return Value{Type: RespInt, Int: n} }

// Error builds an error reply.
func Error(msg string) Value { return Value{Type: RespError, Str: msg} }

// Nil builds a nil reply.
func Nil() Value { return Value{Type: RespNil} }

// Array builds an array reply.
func Array(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{Type: RespArray, Array: vs}
}

// BulkStrings builds an array of bulk strings.
func BulkStrings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = Bulk(s)
	}
	return Array(vs...)
}

// IsNil reports whether v is a nil reply.
func (v Value) IsNil() bool { return v.Type == RespNil }

// Err returns a *ServerError for error replies and nil otherwise.
func (v Value) Err() error {
	if v.Type != RespError {
		return nil
	}
	return &ServerError{Message: v.Str}
}

// Strings flattens an array of bulk or status values.
func (v Value) Strings() ([]string, error) {
	if v.Type == RespNil {
		return nil, nil
	}
	if v.Type != RespArray {
		return nil, fmt.Errorf("expected array reply, got %s", v.Type)
	}
	out := make([]string, 0, len(v.Array))
	for _, e := range v.Array {
		switch e.Type {
		case RespString, RespStatus:
			out = append(out, e.Str)
		case RespInt:
			out = append(out, strconv.FormatInt(e.Int, 10))
		case RespNil:
			out = append(out, "")
		default:
			return nil, fmt.Errorf("unexpected %s element in array reply", e.Type)
		}
	}
	return out, nil
}

func (v Value) String() string {
	switch v.Type {
	case RespStatus, RespString:
		return v.Str
	case RespError:
		return "ERR(" + v.Str + ")"
	case RespInt:
		return strconv.FormatInt(v.Int, 10)
	case RespNil:
		return "<nil>"
	case RespArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return v.Type.String()
}

// ServerError is an error reply sent by a backend server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server error: " + e.Message }

// Prefix returns the leading word of the message, e.g. "WRONGTYPE".
func (e *ServerError) Prefix() string {
	if i := strings.IndexByte(e.Message, ' '); i > 0 {
		return e.Message[:i]
	}
	return e.Message
}
