package agent

import (
	"sync"

	"go.uber.org/zap"
)

const mailboxSize = 64

// Observer receives run events. Each observer is fed from its own goroutine
// in publish order, so a slow observer never stalls the loop or its peers.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type mailbox struct {
	observer Observer
	events   chan Event
	done     chan struct{}
}

func (m *mailbox) run() {
	defer close(m.done)
	for e := range m.events {
		m.observer.OnEvent(e)
	}
}

type bus struct {
	mu        sync.Mutex
	mailboxes []*mailbox
	closed    bool
	logger    *zap.Logger
}

func newBus(logger *zap.Logger) *bus {
	return &bus{logger: logger}
}

func (b *bus) subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	m := &mailbox{observer: o, events: make(chan Event, mailboxSize), done: make(chan struct{})}
	b.mailboxes = append(b.mailboxes, m)
	go m.run()
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, m := range b.mailboxes {
		select {
		case m.events <- e:
		default:
			b.logger.Warn("Observer mailbox full, dropping event", zap.String("kind", string(e.Kind)))
		}
	}
}

// close drains every mailbox and waits for the observers to finish.
func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	mailboxes := b.mailboxes
	b.mailboxes = nil
	b.mu.Unlock()

	for _, m := range mailboxes {
		close(m.events)
	}
	for _, m := range mailboxes {
		<-m.done
	}
}
