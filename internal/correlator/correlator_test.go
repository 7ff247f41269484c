// ABOUTME: Tests for request correlation including out-of-order results and timeouts.
// ABOUTME: Validates exactly-once settlement and cleanup of pending requests.

package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tabhub/internal/channel"
	"github.com/2389/tabhub/internal/protocol"
)

func newTestCorrelator(timeout time.Duration) *Correlator {
	return New(Config{Timeout: timeout, Logger: slog.Default()})
}

// nextSent waits for the next outbound message on ch.
func nextSent(t *testing.T, ch *channel.Memory) protocol.Message {
	t.Helper()
	select {
	case msg := <-ch.Outbox():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return protocol.Message{}
	}
}

func payload(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestCallResolves(t *testing.T) {
	c := newTestCorrelator(time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	type result struct {
		data protocol.ResultData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.Call(context.Background(), ch, protocol.NewExecute("search", nil))
		done <- result{data, err}
	}()

	sent := nextSent(t, ch)
	assert.Equal(t, protocol.TypeExecuteTool, sent.Type)
	require.NotEmpty(t, sent.RequestID)

	assert.True(t, c.Resolve(ch.ID(), sent.RequestID, protocol.ResultData{Success: true, Payload: payload("ok")}))

	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.data.Success)
	assert.JSONEq(t, `"ok"`, string(r.data.Payload))
	assert.Equal(t, 0, c.PendingCount())
}

func TestConcurrentCallsOutOfOrder(t *testing.T) {
	const n = 25
	c := newTestCorrelator(5 * time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			data, err := c.CallWithID(context.Background(), ch, id, protocol.NewExecute("search", nil))
			errs[i] = err
			if err == nil {
				var s string
				_ = json.Unmarshal(data.Payload, &s)
				results[i] = s
			}
		}(i)
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, nextSent(t, ch).RequestID)
	}

	// The tab answers in an arbitrary order, echoing the id in the payload.
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	for _, id := range ids {
		require.True(t, c.Resolve(ch.ID(), id, protocol.ResultData{Success: true, Payload: payload(id)}))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("req-%d", i), results[i])
	}

	// Each id settles exactly once.
	for _, id := range ids {
		assert.False(t, c.Resolve(ch.ID(), id, protocol.ResultData{Success: true}))
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestTimeoutFreesRequest(t *testing.T) {
	c := newTestCorrelator(50 * time.Millisecond)
	ch := channel.NewMemory("1", "https://a.example")

	start := time.Now()
	_, err := c.CallWithID(context.Background(), ch, "req-1", protocol.NewExecute("slow", nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, c.PendingCount())

	// A late reply for the timed-out id is a stray.
	assert.False(t, c.Resolve(ch.ID(), "req-1", protocol.ResultData{Success: true, Payload: payload("stale")}))

	// Reusing the id later gets the new reply, never the stale one.
	done := make(chan protocol.ResultData, 1)
	go func() {
		data, err := c.CallWithID(context.Background(), ch, "req-1", protocol.NewExecute("slow", nil))
		if err == nil {
			done <- data
		}
		close(done)
	}()

	for {
		msg := nextSent(t, ch)
		if msg.RequestID == "req-1" && len(ch.SentOfType(protocol.TypeExecuteTool)) == 2 {
			break
		}
	}
	require.True(t, c.Resolve(ch.ID(), "req-1", protocol.ResultData{Success: true, Payload: payload("fresh")}))

	data, ok := <-done
	require.True(t, ok, "second call should succeed")
	assert.JSONEq(t, `"fresh"`, string(data.Payload))
}

func TestDuplicateRequestID(t *testing.T) {
	c := newTestCorrelator(time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	go func() {
		_, _ = c.CallWithID(context.Background(), ch, "dup", protocol.NewExecute("a", nil))
	}()
	nextSent(t, ch)

	_, err := c.CallWithID(context.Background(), ch, "dup", protocol.NewExecute("b", nil))
	assert.ErrorIs(t, err, ErrDuplicateRequestID)

	c.Resolve(ch.ID(), "dup", protocol.ResultData{Success: true})
}

func TestRejectChannel(t *testing.T) {
	c := newTestCorrelator(5 * time.Second)
	closing := channel.NewMemory("1", "https://a.example")
	other := channel.NewMemory("2", "https://b.example")

	errCh := make(chan error, 2)
	go func() {
		_, err := c.Call(context.Background(), closing, protocol.NewExecute("a", nil))
		errCh <- err
	}()
	go func() {
		_, err := c.Call(context.Background(), closing, protocol.NewExecute("b", nil))
		errCh <- err
	}()
	nextSent(t, closing)
	nextSent(t, closing)

	otherDone := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), other, protocol.NewExecute("c", nil))
		otherDone <- err
	}()
	otherReq := nextSent(t, other)

	assert.Equal(t, 2, c.RejectChannel(closing.ID()))
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-errCh, ErrChannelClosed)
	}

	// The other channel's request is untouched.
	assert.Equal(t, 1, c.PendingCount())
	c.Resolve(other.ID(), otherReq.RequestID, protocol.ResultData{Success: true})
	assert.NoError(t, <-otherDone)
}

func TestSendFailure(t *testing.T) {
	c := newTestCorrelator(time.Second)
	ch := channel.NewMemory("1", "https://a.example")
	require.NoError(t, ch.Close())

	_, err := c.Call(context.Background(), ch, protocol.NewExecute("a", nil))
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCallerCancellation(t *testing.T) {
	c := newTestCorrelator(5 * time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallWithID(ctx, ch, "req-cancel", protocol.NewExecute("a", nil))
		errCh <- err
	}()
	nextSent(t, ch)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, c.PendingCount())

	cancels := ch.SentOfType(protocol.TypeCancelTool)
	require.Len(t, cancels, 1)
	assert.Equal(t, "req-cancel", cancels[0].RequestID)
}

func TestResultFromOtherChannelIgnored(t *testing.T) {
	c := newTestCorrelator(5 * time.Second)
	owner := channel.NewMemory("1", "https://a.example")
	intruder := channel.NewMemory("2", "https://evil.example")

	done := make(chan protocol.ResultData, 1)
	go func() {
		data, err := c.CallWithID(context.Background(), owner, "req-1", protocol.NewExecute("pay", nil))
		if err == nil {
			done <- data
		}
		close(done)
	}()
	nextSent(t, owner)

	assert.False(t, c.Resolve(intruder.ID(), "req-1", protocol.ResultData{Success: true, Payload: payload("forged")}))
	assert.Equal(t, 1, c.PendingCount(), "a foreign result must leave the request waiting")

	require.True(t, c.Resolve(owner.ID(), "req-1", protocol.ResultData{Success: true, Payload: payload("genuine")}))
	data, ok := <-done
	require.True(t, ok)
	assert.JSONEq(t, `"genuine"`, string(data.Payload))
}

func TestCallerDeadlineIsTimeout(t *testing.T) {
	c := newTestCorrelator(5 * time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.CallWithID(ctx, ch, "req-deadline", protocol.NewExecute("slow", nil))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, c.PendingCount())
	assert.Empty(t, ch.SentOfType(protocol.TypeCancelTool))

	// A late reply is a stray.
	assert.False(t, c.Resolve(ch.ID(), "req-deadline", protocol.ResultData{Success: true}))
}

func TestClose(t *testing.T) {
	c := newTestCorrelator(5 * time.Second)
	ch := channel.NewMemory("1", "https://a.example")

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), ch, protocol.NewExecute("a", nil))
		errCh <- err
	}()
	nextSent(t, ch)

	c.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)

	_, err := c.Call(context.Background(), ch, protocol.NewExecute("a", nil))
	assert.ErrorIs(t, err, ErrClosed)
}
