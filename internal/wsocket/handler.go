package wsocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/plans"
	"studypal_go_backend/internal/services"
	"studypal_go_backend/internal/tutor"
	"studypal_go_backend/internal/utils/broker"
)

// Handler upgrades chat connections and bridges websocket frames to the
// session's tutoring controller.
type Handler struct {
	manager  *tutor.Manager
	store    ledger.Store
	chats    services.ChatStore
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// inbound is a client-to-server frame.
type inbound struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// frame is a server-to-client control frame. Tutoring events are written
// as tutor.Event directly; frame covers everything else.
type frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// connSink serialises writes to the connection. Gorilla permits only one
// concurrent writer, and the controller's dispatch goroutine, the broker
// listener and the read loop all produce frames.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSink) Send(ev tutor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

func (s *connSink) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func NewHandler(manager *tutor.Manager, store ledger.Store, chats services.ChatStore, upgrader websocket.Upgrader, log zerolog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		store:    store,
		chats:    chats,
		upgrader: upgrader,
		log:      log.With().Str("component", "wsocket").Logger(),
	}
}

// HandleWebSocket runs one chat session for the lifetime of the connection.
// The identity and plan have already been resolved by the auth middleware.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, identity ledger.Identity, plan plans.Plan, messageBroker *broker.Broker) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sink := &connSink{conn: conn}
	sessionID, controller := h.manager.StartSession(identity, plan, sink)
	defer h.manager.Terminate(sessionID, tutor.UserInitiated)

	log := h.log.With().Str("session_id", sessionID).Str("identity", identity.Key()).Logger()
	log.Info().Str("plan", string(plan)).Msg("session started")

	if !identity.Anonymous() && h.chats != nil {
		if err := h.chats.SaveChat(identity.UserID, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to register chat session")
		}
	}

	if err := sink.write(frame{Type: "session_started", SessionID: sessionID}); err != nil {
		return
	}
	h.sendUsage(r, sink, controller)

	// Plan changes land via Stripe webhooks on a different connection, so
	// they are relayed through the broker to every live session of the user.
	if !identity.Anonymous() {
		topic := "plan_update_" + identity.UserID.String()
		planChan := messageBroker.Subscribe(topic)
		defer messageBroker.Unsubscribe(topic, planChan)

		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-planChan:
					if !ok {
						return
					}
					name, _ := msg.(string)
					updated := plans.Parse(name)
					controller.SetPlan(updated)
					if err := sink.write(frame{Type: "plan_update", Content: string(updated), SessionID: sessionID}); err != nil {
						log.Warn().Err(err).Msg("failed to push plan update")
						return
					}
					h.sendUsage(r, sink, controller)
				}
			}
		}()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("connection closed")
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("malformed frame")
			continue
		}

		// Refresh the idle clock on any client activity.
		if _, err := h.manager.Get(sessionID); err != nil {
			return
		}

		switch msg.Type {
		case "question":
			if _, err := controller.Submit(r.Context(), msg.Content, msg.ImageURL); err != nil {
				sink.Send(tutor.Event{Type: tutor.EventWarning, Content: err.Error()})
			}
		case "stop":
			controller.Cancel()
		case "get_usage":
			h.sendUsage(r, sink, controller)
		case "terminate":
			if err := h.manager.Terminate(sessionID, tutor.UserInitiated); err == nil {
				sink.write(frame{Type: "session_ended", SessionID: sessionID})
			}
			return
		default:
			log.Debug().Str("type", msg.Type).Msg("unknown frame type")
		}
	}
}

func (h *Handler) sendUsage(r *http.Request, sink *connSink, controller *tutor.Controller) {
	usage, err := h.store.GetUsage(r.Context(), controller.Identity(), controller.Plan())
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to read usage")
		return
	}
	sink.Send(tutor.Event{Type: tutor.EventUsageUpdate, Usage: &usage})
}
