package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s got unexpected %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanoutByScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	go h.Run(ctx)

	peak := NewClient("peak", make(chan []byte, 4))
	all := NewClient("all", make(chan []byte, 4))
	other := NewClient("other", make(chan []byte, 4))
	for _, c := range []*Client{peak, all, other} {
		h.Register(c)
	}
	h.Subscribe(peak, []string{"am-peak"})
	h.Subscribe(all, []string{AllScenarios, "am-peak"})
	h.Subscribe(other, []string{"pm-peak"})

	h.Broadcast(Event{Type: "run", Scenario: "am-peak", Payload: map[string]int{"generated": 6}})

	msg := receive(t, peak)
	assert.Equal(t, "run", msg["type"])
	assert.Equal(t, map[string]any{"generated": float64(6)}, msg["payload"])
	receive(t, all)
	assertQuiet(t, all)
	assertQuiet(t, other)

	assert.Eventually(t, func() bool { return h.ClientCount() == 3 }, time.Second, 10*time.Millisecond)
}

func TestUnsubscribeAndUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	go h.Run(ctx)

	c := NewClient("c", make(chan []byte, 4))
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	h.Subscribe(c, []string{"a", "b"})
	h.Unsubscribe(c, []string{"a"})
	assert.False(t, c.HasTopic("a"))
	assert.True(t, c.HasTopic("b"))

	h.Broadcast(Event{Type: "run", Scenario: "a"})
	assertQuiet(t, c)

	h.Unregister(c)
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	h.Broadcast(Event{Type: "run", Scenario: "b"})
	assertQuiet(t, c)
}
