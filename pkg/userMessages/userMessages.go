package userMessages

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ledgersift/txdecoder/pkg/userMessages/userMessagesTypes"
	"go.uber.org/zap"
)

// maxRetainedMessages bounds the in-memory backlog; older messages are
// dropped first.
const maxRetainedMessages = 512

// MessagesAggregator collects user-facing warnings and errors raised while
// decoding and fans them out to subscribed consumers. Publishing never
// blocks: a consumer with a full channel misses the message.
type MessagesAggregator struct {
	consumers *userMessagesTypes.ConsumerList
	logger    *zap.Logger

	mu       sync.Mutex
	warnings []string
	errors   []string
}

func NewMessagesAggregator(l *zap.Logger) *MessagesAggregator {
	return &MessagesAggregator{
		consumers: userMessagesTypes.NewConsumerList(),
		logger:    l,
	}
}

func (ma *MessagesAggregator) Subscribe(consumer *userMessagesTypes.Consumer) {
	ma.consumers.Add(consumer)
}

func (ma *MessagesAggregator) Unsubscribe(consumer *userMessagesTypes.Consumer) {
	ma.consumers.Remove(consumer)
	ma.logger.Sugar().Infow("Unsubscribed consumer", zap.String("consumerId", string(consumer.Id)))
}

func (ma *MessagesAggregator) AddWarning(text string) {
	ma.mu.Lock()
	ma.warnings = appendBounded(ma.warnings, text)
	ma.mu.Unlock()

	ma.publish(&userMessagesTypes.Message{
		Id:       uuid.New().String(),
		Severity: userMessagesTypes.Severity_Warning,
		Text:     text,
	})
}

func (ma *MessagesAggregator) AddError(text string) {
	ma.mu.Lock()
	ma.errors = appendBounded(ma.errors, text)
	ma.mu.Unlock()

	ma.publish(&userMessagesTypes.Message{
		Id:       uuid.New().String(),
		Severity: userMessagesTypes.Severity_Error,
		Text:     text,
	})
}

// Warnings returns the retained warnings in arrival order.
func (ma *MessagesAggregator) Warnings() []string {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	out := make([]string, len(ma.warnings))
	copy(out, ma.warnings)
	return out
}

// Errors returns the retained errors in arrival order.
func (ma *MessagesAggregator) Errors() []string {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	out := make([]string, len(ma.errors))
	copy(out, ma.errors)
	return out
}

func appendBounded(messages []string, text string) []string {
	if len(messages) >= maxRetainedMessages {
		messages = messages[1:]
	}
	return append(messages, text)
}

func (ma *MessagesAggregator) publish(msg *userMessagesTypes.Message) {
	ma.logger.Sugar().Debugw("Publishing user message",
		zap.String("severity", string(msg.Severity)),
		zap.String("text", msg.Text),
	)
	for _, consumer := range ma.consumers.GetAll() {
		if consumer.Channel == nil {
			ma.logger.Sugar().Debugw("Consumer channel is nil", zap.String("consumerId", string(consumer.Id)))
			continue
		}
		select {
		case consumer.Channel <- msg:
			ma.logger.Sugar().Debugw("Published message to consumer",
				zap.String("consumerId", string(consumer.Id)),
				zap.String("messageId", msg.Id),
			)
		default:
			ma.logger.Sugar().Debugw("No receiver available, or channel is full",
				zap.String("consumerId", string(consumer.Id)),
				zap.String("messageId", msg.Id),
			)
		}
	}
}
