package userMessages

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/logger"
	"github.com/ledgersift/txdecoder/pkg/userMessages/userMessagesTypes"
	"github.com/stretchr/testify/assert"
)

func setup() *MessagesAggregator {
	debug := os.Getenv(config.Debug) == "true"
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: debug})
	return NewMessagesAggregator(l)
}

func Test_MessagesAggregator(t *testing.T) {
	t.Run("Should retain warnings and errors in arrival order", func(t *testing.T) {
		ma := setup()

		ma.AddWarning("first")
		ma.AddError("broken")
		ma.AddWarning("second")

		assert.Equal(t, []string{"first", "second"}, ma.Warnings())
		assert.Equal(t, []string{"broken"}, ma.Errors())
	})
	t.Run("Should fan out messages to a subscribed consumer", func(t *testing.T) {
		ma := setup()

		consumer := &userMessagesTypes.Consumer{
			Id:      "testConsumer",
			Channel: make(chan *userMessagesTypes.Message, 16),
		}

		receivedCount := atomic.Uint64{}
		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			for msg := range consumer.Channel {
				t.Logf("Received message: %v", msg)
				receivedCount.Add(1)
				if receivedCount.Load() == uint64(3) {
					ma.Unsubscribe(consumer)
					wg.Done()
					return
				}
			}
		}()
		ma.Subscribe(consumer)

		ma.AddWarning("one")
		ma.AddWarning("two")
		ma.AddError("three")
		wg.Wait()

		assert.Equal(t, uint64(3), receivedCount.Load())
	})
	t.Run("Should not block publishing when a consumer channel is full", func(t *testing.T) {
		ma := setup()

		consumer := &userMessagesTypes.Consumer{
			Id:      "slowConsumer",
			Channel: make(chan *userMessagesTypes.Message, 1),
		}
		ma.Subscribe(consumer)

		ma.AddWarning("kept")
		ma.AddWarning("dropped for the consumer, retained by the aggregator")

		assert.Len(t, ma.Warnings(), 2)
		assert.Len(t, consumer.Channel, 1)
	})
	t.Run("Should bound the retained backlog", func(t *testing.T) {
		ma := setup()

		for i := 0; i < maxRetainedMessages+10; i++ {
			ma.AddWarning("w")
		}

		assert.Len(t, ma.Warnings(), maxRetainedMessages)
	})
}
