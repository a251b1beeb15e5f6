package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_ReturnsResult(t *testing.T) {
	p := New(2)
	got, err := Submit(context.Background(), p, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSubmit_NilPoolRunsInline(t *testing.T) {
	got, err := Submit[string](context.Background(), nil, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(1)
	var active int32
	var maxActive int32

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = Submit(context.Background(), p, func() (struct{}, error) {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return struct{}{}, nil
			})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestPool_RespectsContextCancellation(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	blocker := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), p, func() (struct{}, error) {
			<-blocker
			return struct{}{}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // let the blocker take the only permit

	cancel()
	_, err := Submit(ctx, p, func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, context.Canceled)
	close(blocker)
}

func TestPool_Available(t *testing.T) {
	p := New(3)
	assert.Equal(t, 3, p.Available())
}
