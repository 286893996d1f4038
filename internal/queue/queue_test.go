package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "waitlist_offer", Body: []byte(`{"camp_id":"c1"}`)}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "waitlist_offer", msg.Type)
		assert.JSONEq(t, `{"camp_id":"c1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "day_recap", Body: []byte(`{"closed_by":"amy"}`)}
	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, string(msg.Body), string(got.Body))

	// Bodies containing the separator survive: only the first one splits.
	got, err = deserialize(serialize(Message{Type: "t", Body: []byte("a|b")}))
	require.NoError(t, err)
	assert.Equal(t, "a|b", string(got.Body))
}
