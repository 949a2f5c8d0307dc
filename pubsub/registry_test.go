package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_PublishOrder(t *testing.T) {
	r := New[int]()

	var got []string
	r.Subscribe(func(v int) { got = append(got, "first") })
	r.Subscribe(func(v int) { got = append(got, "second") })
	r.Subscribe(func(v int) { got = append(got, "third") })

	r.Publish(1)

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

// Отписка идемпотентна: повторный вызов unsubscribe ничего не ломает
func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	r := New[string]()

	calls := 0
	unsub := r.Subscribe(func(string) { calls++ })

	unsub()
	unsub() // second call is a no-op
	r.Publish("change")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, r.Len())
}

// Две подписки одного и того же callback независимы друг от друга
func TestRegistry_SameCallbackTwice(t *testing.T) {
	r := New[int]()

	calls := 0
	fn := func(int) { calls++ }

	unsub1 := r.Subscribe(fn)
	r.Subscribe(fn)

	unsub1()
	r.Publish(7)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UnsubscribeDuringDispatch(t *testing.T) {
	r := New[int]()

	var unsub2 func()
	calls2 := 0

	r.Subscribe(func(int) { unsub2() })
	unsub2 = r.Subscribe(func(int) { calls2++ })

	// first subscriber removes the second mid-dispatch; the snapshot for the
	// current publish was already taken, so the second still fires once
	r.Publish(1)
	r.Publish(2)

	assert.Equal(t, 1, calls2)
}
