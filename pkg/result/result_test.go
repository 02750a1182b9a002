package result

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/shardis/pkg/protocol"
)

func TestHandleSettlesOnce(t *testing.T) {
	h := New()
	assert.False(t, h.Settled())
	assert.True(t, h.Resolve(protocol.Status("OK")))
	assert.False(t, h.Reject(errors.New("late")))
	assert.False(t, h.Resolve(protocol.Int(1)))

	v, err := h.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, protocol.Status("OK"), v)
	assert.True(t, h.Settled())
}

func TestHandleSettleErrorReply(t *testing.T) {
	h := New()
	h.Settle(protocol.Error("ERR nope"))
	_, err := h.Result()
	var se *protocol.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ERR nope", se.Message)
}

func TestHandleWaitContext(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.Settled(), "giving up does not settle the handle")
}

func TestRejected(t *testing.T) {
	boom := errors.New("boom")
	_, err := Rejected(boom).Result()
	assert.ErrorIs(t, err, boom)
}
