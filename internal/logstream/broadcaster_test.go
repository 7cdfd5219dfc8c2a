package logstream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case l, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, l.Text)
		case <-timeout:
			t.Fatalf("timed out after %d of %d lines", len(out), n)
		}
	}
	return out
}

func TestBroadcaster_OrderAndFanOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(Line{Text: fmt.Sprintf("line %d", i)})
	}

	want := make([]string, 10)
	for i := range want {
		want[i] = fmt.Sprintf("line %d", i)
	}
	assert.Equal(t, want, drain(t, a, 10))
	assert.Equal(t, want, drain(t, c, 10))
}

func TestBroadcaster_NoReplay(t *testing.T) {
	b := New()
	b.Publish(Line{Text: "before"})

	sub := b.Subscribe()
	b.Publish(Line{Text: "after"})

	assert.Equal(t, []string{"after"}, drain(t, sub, 1))
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := New(WithBuffer(2))
	slow := b.Subscribe()
	fast := b.Subscribe()

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for l := range fast.C {
			got = append(got, l.Text)
			if len(got) == 5 {
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		b.Publish(Line{Text: fmt.Sprintf("%d", i)})
		// let the fast reader keep up
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)

	var slowLines []string
	for l := range slow.C {
		slowLines = append(slowLines, l.Text)
	}
	assert.Equal(t, []string{"0", "1"}, slowLines)
	assert.Equal(t, 1, b.Count())
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	var counts []int
	b := New(WithObserverGauge(func(n int) { counts = append(counts, n) }))
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Publish(Line{Text: "ignored"})

	_, ok := <-sub.C
	require.False(t, ok)
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, []int{1, 0}, counts)
}

func TestBroadcaster_StampsTime(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.Publish(Line{Text: "x"})

	l := <-sub.C
	assert.False(t, l.Time.IsZero())
	assert.Equal(t, "x", l.String())
}
