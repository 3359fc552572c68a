package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hatchtrack/incubator-mgmt/internal/pkg/application/broadcast"
	"github.com/hatchtrack/incubator-mgmt/pkg/types"
)

// idleTimeout is how long a session waits for inbound traffic before
// sending a keepalive ping. Many proxies close idle connections well
// below two minutes.
const idleTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// websocketHandler runs one viewer session: register with the broadcast
// registry, forward events, answer pings, and unregister exactly once on
// any exit path.
func websocketHandler(log zerolog.Logger, registry *broadcast.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := chi.URLParam(r, "deviceID")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		logger := log.With().Str("session", uuid.NewString()).Str("channel", channel).Logger()

		sub := registry.Register(channel)
		defer registry.Unregister(sub)
		defer conn.Close()

		err = conn.WriteJSON(types.Event{
			Type:     types.EventTypeConnected,
			DeviceID: channel,
			Message:  fmt.Sprintf("Connected to telemetry stream for %s", channel),
		})
		if err != nil {
			return
		}

		logger.Debug().Msg("viewer connected")

		inbound := make(chan types.Event)
		readerDone := make(chan struct{})
		sessionDone := make(chan struct{})
		defer close(sessionDone)

		go func() {
			defer close(readerDone)
			for {
				var msg types.Event
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				select {
				case inbound <- msg:
				case <-sessionDone:
					return
				}
			}
		}()

		idle := time.NewTimer(idleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-readerDone:
				logger.Debug().Msg("viewer disconnected")
				return

			case msg := <-inbound:
				if msg.Type == types.EventTypePing {
					if err := conn.WriteJSON(types.Event{Type: types.EventTypePong}); err != nil {
						return
					}
				}
				resetTimer(idle, idleTimeout)

			case <-idle.C:
				if err := conn.WriteJSON(types.Event{Type: types.EventTypePing}); err != nil {
					return
				}
				idle.Reset(idleTimeout)

			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					logger.Debug().Err(err).Msg("send failed, closing session")
					return
				}
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
