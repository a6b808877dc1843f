package events

import (
	"errors"
	"strings"
	"sync"

	"github.com/smallbiznis/insightdesk/internal/insight/domain"
)

// TopicInsights carries ai_insights change events.
const TopicInsights = "ai_insights"

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidTopic   = errors.New("invalid_topic")
)

// Hub fans change events out to in-process subscribers. Slow subscribers
// lose events rather than block publishers.
type Hub struct {
	mu               sync.RWMutex
	topics           map[string]*topic
	bufferSize       int
	subscriberBuffer int
}

type topic struct {
	mu     sync.Mutex
	buffer []domain.ChangeEvent
	subs   map[uint64]chan domain.ChangeEvent
	nextID uint64
}

type Subscription struct {
	hub   *Hub
	topic string
	id    uint64
	ch    chan domain.ChangeEvent
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		topics:           make(map[string]*topic),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish keeps the event in the topic backlog only while the topic has
// subscribers.
func (h *Hub) Publish(name string, event domain.ChangeEvent) {
	if h == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	h.mu.RLock()
	t := h.topics[name]
	h.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, event)
	if len(t.buffer) > h.bufferSize {
		t.buffer = t.buffer[len(t.buffer)-h.bufferSize:]
	}
	subs := make([]chan domain.ChangeEvent, 0, len(t.subs))
	for _, ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns the subscription and a copy of the recent backlog.
func (h *Hub) Subscribe(name string) (*Subscription, []domain.ChangeEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrInvalidTopic
	}

	t := h.ensureTopic(name)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	ch := make(chan domain.ChangeEvent, h.subscriberBuffer)
	t.subs[id] = ch
	backlog := append([]domain.ChangeEvent(nil), t.buffer...)
	t.mu.Unlock()

	return &Subscription{hub: h, topic: name, id: id, ch: ch}, backlog, nil
}

func (h *Hub) ensureTopic(name string) *topic {
	h.mu.RLock()
	current := h.topics[name]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.topics[name]
	if current == nil {
		current = &topic{subs: make(map[uint64]chan domain.ChangeEvent)}
		h.topics[name] = current
	}
	return current
}

func (h *Hub) unsubscribe(name string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.topics[name]
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.subs, id)
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(h.topics, name)
	}
}

func (s *Subscription) Events() <-chan domain.ChangeEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.topic, s.id)
	})
}
