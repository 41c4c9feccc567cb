package userMessagesTypes

import (
	"sync"
)

type Severity string

const (
	Severity_Warning Severity = "warning"
	Severity_Error   Severity = "error"
)

// Message is a user-facing diagnostic produced while decoding. It is never
// fatal: decoding continues after every message.
type Message struct {
	Id       string
	Severity Severity
	Text     string
}

type ConsumerId string

type Consumer struct {
	Id      ConsumerId
	Channel chan *Message
}

type ConsumerList struct {
	mu        sync.Mutex
	consumers []*Consumer
}

func NewConsumerList() *ConsumerList {
	return &ConsumerList{
		consumers: make([]*Consumer, 0),
	}
}

func (cl *ConsumerList) Add(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.consumers = append(cl.consumers, consumer)
}

func (cl *ConsumerList) Remove(consumer *Consumer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for i, c := range cl.consumers {
		if c.Id == consumer.Id {
			cl.consumers = append(cl.consumers[:i], cl.consumers[i+1:]...)
			break
		}
	}
}

func (cl *ConsumerList) GetAll() []*Consumer {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.consumers
}
