package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	maxBulkLen   = 512 << 20
	maxArrayLen  = 1 << 24
	maxNestDepth = 64

	initialArrayCap = 1024
)

var errIncomplete = errors.New("incomplete reply")

// frame is an array whose header has been read but not all of its elements.
type frame struct {
	elems []Value
	want  int
}

// Decoder turns a reply byte stream into values. Elements are consumed as
// soon as they are complete, and arrays still missing elements are kept as
// open frames, so a large reply arriving over many reads is parsed once.
// After an error the decoder is broken and every later Feed returns the same
// error; callers discard it together with the connection.
type Decoder struct {
	buf    []byte
	open   []frame // outermost first
	broken error
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the pending bytes and returns every complete reply. On a
// decode error the replies completed before the bad one are still returned.
func (d *Decoder) Feed(p []byte) ([]Value, error) {
	if d.broken != nil {
		return nil, d.broken
	}
	d.buf = append(d.buf, p...)

	var out []Value
	pos := 0
	for pos < len(d.buf) {
		v, n, next, err := parseItem(d.buf, pos)
		if errors.Is(err, errIncomplete) {
			break
		}
		if err == nil && n > 0 && len(d.open) == maxNestDepth {
			err = fmt.Errorf("%w: arrays nested deeper than %d", ErrProtocol, maxNestDepth)
		}
		if err != nil {
			d.broken = err
			d.buf = nil
			d.open = nil
			return out, err
		}
		pos = next

		if n > 0 {
			d.open = append(d.open, frame{elems: make([]Value, 0, min(n, initialArrayCap)), want: n})
			continue
		}
		if reply, done := d.complete(v); done {
			out = append(out, reply)
		}
	}

	if pos > 0 {
		n := copy(d.buf, d.buf[pos:])
		d.buf = d.buf[:n]
	}
	return out, nil
}

// complete adds v to the innermost open array, closing every array it fills.
// It returns the finished reply once no array is left open.
func (d *Decoder) complete(v Value) (Value, bool) {
	for len(d.open) > 0 {
		top := &d.open[len(d.open)-1]
		top.elems = append(top.elems, v)
		if len(top.elems) < top.want {
			return Value{}, false
		}
		v = Array(top.elems...)
		d.open = d.open[:len(d.open)-1]
	}
	return v, true
}

// Buffered returns the number of bytes held for an incomplete element.
func (d *Decoder) Buffered() int { return len(d.buf) }

// parseItem reads one scalar, or one array header. For a non-empty array it
// returns the element count in n and no value.
func parseItem(buf []byte, pos int) (Value, int, int, error) {
	line, next, err := readLine(buf, pos)
	if err != nil {
		return Value{}, 0, 0, err
	}
	if len(line) == 0 {
		return Value{}, 0, 0, fmt.Errorf("%w: empty line", ErrProtocol)
	}

	switch line[0] {
	case '+':
		return Status(string(line[1:])), 0, next, nil
	case '-':
		return Error(string(line[1:])), 0, next, nil
	case ':':
		i, err := parseInt(line[1:])
		if err != nil {
			return Value{}, 0, 0, err
		}
		return Int(i), 0, next, nil
	case '$':
		size, err := parseInt(line[1:])
		if err != nil {
			return Value{}, 0, 0, err
		}
		if size == -1 {
			return Nil(), 0, next, nil
		}
		if size < 0 || size > maxBulkLen {
			return Value{}, 0, 0, fmt.Errorf("%w: bad bulk length %d", ErrProtocol, size)
		}
		end := next + int(size)
		if end+2 > len(buf) {
			return Value{}, 0, 0, errIncomplete
		}
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return Value{}, 0, 0, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocol)
		}
		return Bulk(string(buf[next:end])), 0, end + 2, nil
	case '*':
		size, err := parseInt(line[1:])
		if err != nil {
			return Value{}, 0, 0, err
		}
		if size == -1 {
			return Nil(), 0, next, nil
		}
		if size < 0 || size > maxArrayLen {
			return Value{}, 0, 0, fmt.Errorf("%w: bad array length %d", ErrProtocol, size)
		}
		if size == 0 {
			return Array(), 0, next, nil
		}
		return Value{}, int(size), next, nil
	}
	return Value{}, 0, 0, fmt.Errorf("%w: unexpected type byte %q", ErrProtocol, line[0])
}

func readLine(buf []byte, pos int) ([]byte, int, error) {
	i := bytes.Index(buf[pos:], []byte("\r\n"))
	if i < 0 {
		return nil, 0, errIncomplete
	}
	return buf[pos : pos+i], pos + i + 2, nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrProtocol, b)
	}
	return n, nil
}
