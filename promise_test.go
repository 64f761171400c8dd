package gst

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseReply(t *testing.T) {
	p := NewPromise()
	defer p.Unref()
	assert.Equal(t, PromisePending, p.Result())
	assert.Nil(t, p.GetReply())

	go p.Reply(NewStructureFromFields("reply", "answer", int32(42)))
	require.Equal(t, PromiseReplied, p.Wait())

	s, err := p.Outcome()
	require.NoError(t, err)
	v, err := s.GetInt("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Same(t, s, p.GetReply())
}

func TestPromiseFirstTransitionWins(t *testing.T) {
	calls := 0
	p := NewPromiseWithChangeFunc(func(*Promise) { calls++ })
	defer p.Unref()

	p.Interrupt()
	p.Reply(NewStructure("late"))
	p.Expire()

	assert.Equal(t, 1, calls)
	assert.Equal(t, PromiseInterrupted, p.Result())
	assert.Nil(t, p.GetReply())
	_, err := p.Outcome()
	assert.ErrorIs(t, err, ErrPromiseInterrupted)
}

func TestPromiseExpire(t *testing.T) {
	p := NewPromise()
	defer p.Unref()
	p.Expire()
	_, err := p.Outcome()
	assert.ErrorIs(t, err, ErrPromiseExpired)
	assert.NotErrorIs(t, err, ErrPromiseInterrupted)
}

func TestPromiseEmptyReply(t *testing.T) {
	p := NewPromise()
	defer p.Unref()
	p.Reply(nil)
	s, err := p.Outcome()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestPromiseChangeFuncPanic(t *testing.T) {
	p := NewPromiseWithChangeFunc(func(*Promise) { panic("boom") })
	defer p.Unref()
	assert.NotPanics(t, func() { p.Reply(nil) })
	assert.Equal(t, PromiseReplied, p.Result())
}

func TestPromiseManyWaiters(t *testing.T) {
	p := NewPromise()
	defer p.Unref()

	var wg sync.WaitGroup
	results := make([]PromiseResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.Wait()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	p.Reply(nil)
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, PromiseReplied, r)
	}
}

func TestPromiseFuture(t *testing.T) {
	p, f := NewPromiseFuture()
	defer f.Release()

	go func() {
		defer p.Unref()
		p.Reply(NewStructureFromFields("reply", "ok", true))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := f.Await(ctx)
	require.NoError(t, err)
	ok, err := Get[bool](s, "ok")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPromiseFutureReleaseInterrupts(t *testing.T) {
	p, f := NewPromiseFuture()
	defer p.Unref()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.Release()
	assert.Equal(t, PromiseInterrupted, p.Result())
	<-f.Done()
	f.Release()
}
