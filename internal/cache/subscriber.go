package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/edulink/profile-cache/internal/domain"
)

// Change channels emitted by the database triggers.
const (
	channelStudents = "students_changes"
	channelProfiles = "profiles_changes"
	channelRules    = "rules_changes"
	channelSessions = "sessions_changes"
)

var changeChannels = []string{channelStudents, channelProfiles, channelRules, channelSessions}

// Reconnect backoff bounds for the dedicated notification connection.
const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Subscriber owns the dedicated long-lived LISTEN connection. Notifications
// from all channels are delivered on one goroutine, which gives same-id (in
// fact, global) arrival-order processing for free. After an outage the
// underlying listener reconnects with capped exponential backoff and the
// subscriber triggers a full reload to recover missed events.
type Subscriber struct {
	cache    *Cache
	listener *pq.Listener
	reload   chan struct{}
}

// NewSubscriber creates a subscriber over its own connection to dsn.
func NewSubscriber(dsn string, c *Cache) *Subscriber {
	s := &Subscriber{
		cache:  c,
		reload: make(chan struct{}, 1),
	}
	s.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, s.onListenerEvent)
	return s
}

// Start subscribes to every change channel and launches the dispatch loop.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, ch := range changeChannels {
		if err := s.listener.Listen(ch); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	go s.run(ctx)
	log.Printf("subscriber: listening on %d channels", len(changeChannels))
	return nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer s.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.reload:
			// Connection was re-established: events may have been missed
			// while it was down, so replace the whole projection.
			if err := s.cache.Reload(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("subscriber: reload after reconnect failed: %v", err)
				// Leave the stale projection serving; the next reconnect or
				// a manual reload will converge it.
			}

		case n := <-s.listener.Notify:
			if n == nil {
				// The listener signals a dropped connection with a nil
				// notification; the reconnect event handles recovery.
				continue
			}
			s.dispatch(ctx, n.Channel, n.Extra)

		case <-time.After(listenerPingInterval):
			if err := s.listener.Ping(); err != nil {
				log.Printf("subscriber: ping failed: %v", err)
			}
		}
	}
}

// onListenerEvent runs on the pq listener's internal goroutine; it only
// signals, never touches cache state.
func (s *Subscriber) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		log.Printf("subscriber: connected")
	case pq.ListenerEventReconnected:
		log.Printf("subscriber: reconnected, scheduling full reload")
		select {
		case s.reload <- struct{}{}:
		default:
		}
	case pq.ListenerEventDisconnected:
		log.Printf("subscriber: disconnected: %v", err)
	case pq.ListenerEventConnectionAttemptFailed:
		log.Printf("subscriber: connection attempt failed: %v", err)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, channel, payload string) {
	ev, err := domain.ParseChangeEvent(payload)
	if err != nil {
		log.Printf("subscriber: dropping bad payload on %s: %v", channel, err)
		s.cache.eventsDropped.Add(1)
		return
	}
	if !ev.Operation.Known() {
		log.Printf("subscriber: ignoring unknown operation %q on %s", ev.Operation, channel)
		s.cache.eventsDropped.Add(1)
		return
	}

	var herr error
	switch channel {
	case channelStudents:
		herr = s.cache.ApplyStudentChange(ctx, ev)
	case channelProfiles:
		herr = s.cache.ApplyProfileChange(ctx, ev)
	case channelRules:
		herr = s.cache.ApplyRuleChange(ctx, ev)
	case channelSessions:
		herr = s.cache.ApplySessionChange(ctx, ev)
	default:
		log.Printf("subscriber: notification on unexpected channel %s", channel)
		return
	}

	if herr != nil {
		log.Printf("subscriber: %s %s(%d) failed: %v", channel, ev.Operation, ev.ID, herr)
		return
	}
	s.cache.eventsProcessed.Add(1)
}
