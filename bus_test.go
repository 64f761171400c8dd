package gst

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusOrder(t *testing.T) {
	bus := NewBus()
	src := NewElement("poster", nil)
	assert.False(t, bus.HavePending())
	assert.Nil(t, bus.Pop())

	require.True(t, bus.Post(NewEOSMessage(src)))
	require.True(t, bus.Post(NewApplicationMessage(src, NewStructure("app"))))
	require.True(t, bus.Post(NewLatencyMessage(src)))
	assert.True(t, bus.HavePending())

	peeked := bus.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, MessageEOS, peeked.MessageType())
	peeked.Unref()

	first := bus.Pop()
	require.NotNil(t, first)
	assert.Equal(t, MessageEOS, first.MessageType())
	assert.Equal(t, "poster", first.SrcName())
	first.Unref()

	// filtering drops what comes before the match
	lat := bus.PopFiltered(MessageLatency)
	require.NotNil(t, lat)
	lat.Unref()
	assert.False(t, bus.HavePending())
}

func TestBusTimedPop(t *testing.T) {
	bus := NewBus()
	start := time.Now()
	assert.Nil(t, bus.TimedPop(10*Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		bus.Post(NewApplicationMessage(nil, NewStructure("skip")))
		bus.Post(NewEOSMessage(nil))
	}()
	msg := bus.TimedPopFiltered(5*Second, MessageEOS|MessageError)
	require.NotNil(t, msg)
	assert.Equal(t, MessageEOS, msg.MessageType())
	msg.Unref()
}

func TestBusSyncHandler(t *testing.T) {
	bus := NewBus()
	var seen []MessageType
	bus.SetSyncHandler(func(_ *Bus, msg *Message) BusSyncReply {
		seen = append(seen, msg.MessageType())
		if msg.MessageType() == MessageLatency {
			return BusDrop
		}
		if msg.MessageType() == MessageError {
			panic("handler bug")
		}
		return BusPass
	})

	require.True(t, bus.Post(NewLatencyMessage(nil)))
	require.True(t, bus.Post(NewEOSMessage(nil)))
	require.True(t, bus.Post(NewErrorMessage(nil, assert.AnError, "", nil)))
	assert.Equal(t, []MessageType{MessageLatency, MessageEOS, MessageError}, seen)

	msg := bus.Pop()
	require.NotNil(t, msg)
	assert.Equal(t, MessageEOS, msg.MessageType())
	msg.Unref()
	assert.Nil(t, bus.Pop(), "dropped and panicking messages are not queued")
}

func TestBusAsyncReplyBlocksPoster(t *testing.T) {
	bus := NewBus()
	bus.SetSyncHandler(func(*Bus, *Message) BusSyncReply { return BusAsync })

	posted := make(chan struct{})
	go func() {
		bus.Post(NewEOSMessage(nil))
		close(posted)
	}()
	select {
	case <-posted:
		t.Fatal("poster returned before the message was popped")
	case <-time.After(20 * time.Millisecond):
	}
	msg := bus.TimedPop(Second)
	require.NotNil(t, msg)
	msg.Unref()
	<-posted
}

func TestBusFlushing(t *testing.T) {
	bus := NewBus()
	require.True(t, bus.Post(NewEOSMessage(nil)))
	bus.SetFlushing(true)
	assert.False(t, bus.HavePending())
	assert.False(t, bus.Post(NewEOSMessage(nil)))

	bus.SetFlushing(false)
	assert.True(t, bus.Post(NewEOSMessage(nil)))
	assert.True(t, bus.HavePending())
}

func TestBusWatch(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []MessageType
	done := make(chan struct{})
	require.NoError(t, bus.AddWatch(func(_ *Bus, msg *Message) bool {
		mu.Lock()
		got = append(got, msg.MessageType())
		mu.Unlock()
		if msg.MessageType() == MessageEOS {
			close(done)
			return false
		}
		return true
	}))
	assert.ErrorIs(t, bus.AddWatch(func(*Bus, *Message) bool { return true }), ErrBusHasWatch)

	bus.Post(NewLatencyMessage(nil))
	bus.Post(NewEOSMessage(nil))
	<-done
	mu.Lock()
	assert.Equal(t, []MessageType{MessageLatency, MessageEOS}, got)
	mu.Unlock()

	// returning false removed the watch
	require.Eventually(t, func() bool {
		if err := bus.AddWatch(func(*Bus, *Message) bool { return true }); err != nil {
			return false
		}
		return true
	}, time.Second, time.Millisecond)
	assert.True(t, bus.RemoveWatch())
	assert.False(t, bus.RemoveWatch())
}
