package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"
)

const encoderBufferSize = 4096

// Encoder frames commands onto a writer. Text framing is batched into as few
// writes as possible; []byte arguments are written straight through, with the
// buffered framing flushed before them so the byte order is preserved.
type Encoder struct {
	w   io.Writer
	buf *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: bufio.NewWriterSize(w, encoderBufferSize)}
}

// Encode writes one command frame and flushes it.
func (e *Encoder) Encode(cmd string, args []any) error {
	e.header('*', len(args)+1)
	e.bulkString(cmd)
	for _, arg := range args {
		if b, ok := arg.([]byte); ok {
			if err := e.bulkBytes(b); err != nil {
				return err
			}
			continue
		}
		e.bulkString(Stringify(arg))
	}
	return e.buf.Flush()
}

func (e *Encoder) header(marker byte, n int) {
	var scratch [24]byte
	b := append(scratch[:0], marker)
	b = strconv.AppendInt(b, int64(n), 10)
	b = append(b, '\r', '\n')
	_, _ = e.buf.Write(b)
}

func (e *Encoder) bulkString(s string) {
	e.header('$', len(s))
	_, _ = e.buf.WriteString(s)
	_, _ = e.buf.WriteString("\r\n")
}

func (e *Encoder) bulkBytes(b []byte) error {
	e.header('$', len(b))
	if err := e.buf.Flush(); err != nil {
		return err
	}
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	_, _ = e.buf.WriteString("\r\n")
	return nil
}

// Stringify renders a textual argument the way it is sent on the wire.
func Stringify(arg any) string {
	switch v := arg.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Duration:
		return strconv.FormatInt(v.Milliseconds(), 10)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(arg)
}

// AppendValue appends the wire form of a reply to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case RespStatus:
		dst = append(dst, '+')
		dst = append(dst, v.Str...)
	case RespError:
		dst = append(dst, '-')
		dst = append(dst, v.Str...)
	case RespInt:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
	case RespString:
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v.Str)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, v.Str...)
	case RespNil:
		dst = append(dst, "$-1"...)
	case RespArray:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v.Array)), 10)
		dst = append(dst, '\r', '\n')
		for _, e := range v.Array {
			dst = AppendValue(dst, e)
		}
		return dst
	}
	return append(dst, '\r', '\n')
}
