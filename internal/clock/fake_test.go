package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterFuncFiresOnDeadline(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(9999 * time.Millisecond)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.Pending())

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "one-shot timer must not fire twice")
}

func TestFakeStopPreventsCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeAfterDeliversOnAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ch := c.After(500 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(0, 0).Add(500*time.Millisecond), got)
	default:
		t.Fatal("After did not fire")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestFakeCallbacksRunInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}
