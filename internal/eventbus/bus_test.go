package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublish_InvokesAllHandlersInOrder(t *testing.T) {
	b := New(zap.NewNop())
	var seen []int
	var mu sync.Mutex

	b.Subscribe(AgentCreated, func(Event) {
		mu.Lock()
		seen = append(seen, 1)
		mu.Unlock()
	})
	b.Subscribe(AgentCreated, func(Event) {
		mu.Lock()
		seen = append(seen, 2)
		mu.Unlock()
	})

	b.Publish(AgentCreated, nil)

	assert.Equal(t, []int{1, 2}, seen)
}

func TestPublish_PanicInOneHandlerDoesNotStopOthers(t *testing.T) {
	b := New(zap.NewNop())
	var secondRan bool

	b.Subscribe(AgentDeleted, func(Event) {
		panic("boom")
	})
	b.Subscribe(AgentDeleted, func(Event) {
		secondRan = true
	})

	assert.NotPanics(t, func() {
		b.Publish(AgentDeleted, nil)
	})
	assert.True(t, secondRan)
}

func TestPublish_ReentrantPublishFromHandler(t *testing.T) {
	b := New(zap.NewNop())
	done := make(chan struct{})

	b.Subscribe(RunCreated, func(Event) {
		b.Publish(RunRunning, nil)
		close(done)
	})
	b.Subscribe(RunRunning, func(Event) {})

	b.Publish(RunCreated, nil)
	<-done
}

func TestUnsubscribe_RemovesHandler(t *testing.T) {
	b := New(zap.NewNop())
	var calls int

	unsub := b.Subscribe(WorkerStarted, func(Event) {
		calls++
	})
	b.Publish(WorkerStarted, nil)
	unsub()
	b.Publish(WorkerStarted, nil)

	assert.Equal(t, 1, calls)
}
