package events

import (
	"context"
	"time"

	"github.com/smallbiznis/insightdesk/internal/observability/metrics"
	"go.uber.org/zap"
)

// Requester accepts refresh requests.
type Requester interface {
	Request(trigger string)
}

// Listener turns change events from other nodes into refresh requests. A
// burst of events inside one debounce window yields a single request, and a
// steady stream yields one request per window.
// Events from this node are skipped; the mutation already asked for a
// refresh.
type Listener struct {
	hub       *Hub
	requester Requester
	origin    string
	debounce  time.Duration
	log       *zap.Logger
}

func NewListener(hub *Hub, requester Requester, origin string, debounce time.Duration, log *zap.Logger) *Listener {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		hub:       hub,
		requester: requester,
		origin:    origin,
		debounce:  debounce,
		log:       log.Named("insight.events.listener"),
	}
}

// Run blocks until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	sub, _, err := l.hub.Subscribe(TopicInsights)
	if err != nil {
		return err
	}
	defer sub.Close()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending int
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if event.Origin == l.origin {
				continue
			}
			pending++
			// The window opens on the first pending event and is not extended,
			// so a continuous stream still refreshes once per window.
			if fire != nil {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			fire = timer.C
		case <-fire:
			l.log.Debug("change window closed, requesting refresh", zap.Int("events", pending))
			pending = 0
			fire = nil
			l.requester.Request(metrics.RefreshTriggerChange)
		}
	}
}
