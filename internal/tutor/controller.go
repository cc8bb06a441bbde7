// Package tutor drives one user-submitted question through quota gating, AI
// dispatch and response reveal, while staying safely cancellable.
//
// The core rule: every suspension point (the provider call, the latency
// floor, each reveal step) re-validates that its request is still the pending
// one before touching shared state. A stale or cancelled request can never
// mutate the transcript after the fact.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studypal_go_backend/internal/ai"
	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/plans"
)

// ErrEmptySubmission is returned when a submission has neither a question nor
// an attached photo.
var ErrEmptySubmission = errors.New("tutor: empty question and no attachment")

// Event types sent to the session's Sink.
const (
	EventUserMessage      = "user_message"
	EventAssistantChunk   = "assistant_chunk"
	EventAssistantMessage = "assistant_message"
	EventWarning          = "warning"
	EventLimitReached     = "limit_reached"
	EventUsageUpdate      = "usage_update"
)

// Event is one frame pushed to the client during a chat exchange.
type Event struct {
	Type      string        `json:"type"`
	Content   string        `json:"content,omitempty"`
	ImageURL  string        `json:"imageUrl,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	Usage     *ledger.Usage `json:"usage,omitempty"`
}

// Sink receives controller events. The websocket handler is one
// implementation; tests supply fakes.
type Sink interface {
	Send(event Event) error
}

// History persists transcript messages for signed-in users. A nil History
// keeps the transcript session-only.
type History interface {
	SaveMessage(sessionID, msgType, content, imageURL string) error
}

// Config collects the controller's timing knobs. Tests shrink the delays to
// keep runs fast.
type Config struct {
	// MinRevealLatency is the floor on perceived response time, so a cached
	// answer does not flash in jarringly.
	MinRevealLatency time.Duration
	// CharDelay is the pause after each revealed rune.
	CharDelay time.Duration
	// PunctuationDelay is the extra pause after sentence-ending punctuation.
	PunctuationDelay time.Duration
	// ShortResponseWords caps the responses that animate; longer ones are
	// shown whole.
	ShortResponseWords int
	// DispatchTimeout bounds one provider call so a hung request cannot pin
	// its goroutine forever.
	DispatchTimeout time.Duration
	SystemPrompt    string
}

func DefaultConfig() Config {
	return Config{
		MinRevealLatency:   2 * time.Second,
		CharDelay:          35 * time.Millisecond,
		PunctuationDelay:   350 * time.Millisecond,
		ShortResponseWords: 50,
		DispatchTimeout:    60 * time.Second,
		SystemPrompt:       defaultSystemPrompt,
	}
}

const defaultSystemPrompt = "You are StudyPal, a friendly and patient tutor. " +
	"Explain step by step, at the student's level, and encourage them to try " +
	"the next step themselves. If a homework photo is attached, read the " +
	"problem from it before answering."

// Controller owns the request lifecycle for one chat session.
type Controller struct {
	sessionID  string
	identity   ledger.Identity
	store      ledger.Store
	dispatcher ai.Dispatcher
	sink       Sink
	history    History
	log        zerolog.Logger
	cfg        Config

	mu               sync.Mutex
	plan             plans.Plan
	transcript       []ai.Message
	pendingRequestID string
	stopRequested    bool
	dispatching      bool
	revealing        bool
}

func NewController(
	sessionID string,
	identity ledger.Identity,
	plan plans.Plan,
	store ledger.Store,
	dispatcher ai.Dispatcher,
	sink Sink,
	history History,
	log zerolog.Logger,
	cfg Config,
) *Controller {
	return &Controller{
		sessionID:  sessionID,
		identity:   identity,
		plan:       plan,
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
		history:    history,
		log:        log,
		cfg:        cfg,
	}
}

// Submit runs one question through the lifecycle. It returns once the
// question has been accepted (or rejected at the quota gate); the provider
// call and the reveal continue on their own goroutine. Starting a new request
// supersedes any in-flight one: the older request's result will no longer
// match the pending id and is discarded on arrival.
func (c *Controller) Submit(ctx context.Context, question, imageURL string) (string, error) {
	if strings.TrimSpace(question) == "" && imageURL == "" {
		return "", ErrEmptySubmission
	}

	requestID := uuid.New().String()
	c.mu.Lock()
	c.pendingRequestID = requestID
	c.stopRequested = false
	plan := c.plan
	c.mu.Unlock()

	if !ledger.CanAsk(ctx, c.store, c.identity, plan) {
		c.emit(Event{Type: EventLimitReached, Content: limitMessage(plan), RequestID: requestID})
		return requestID, nil
	}

	usage, err := c.store.RecordQuestion(ctx, c.identity, plan)
	if err != nil {
		if errors.Is(err, ledger.ErrLimitExceeded) {
			// Lost a race against another submission; same outcome as the gate.
			c.emit(Event{Type: EventLimitReached, Content: limitMessage(plan), RequestID: requestID})
		} else {
			c.log.Warn().Err(err).Str("session_id", c.sessionID).Msg("failed to record question")
			c.emit(Event{Type: EventWarning, Content: storageWarningMessage, RequestID: requestID})
		}
		return requestID, nil
	}

	// The user message is appended synchronously, before any suspension
	// point, so transcript order follows submission order.
	userMsg := ai.Message{Role: ai.RoleUser, Content: question, ImageURL: imageURL}
	c.mu.Lock()
	c.transcript = append(c.transcript, userMsg)
	messages := c.dispatchMessagesLocked()
	c.dispatching = true
	c.mu.Unlock()

	c.saveMessage("user", question, imageURL)
	c.emit(Event{Type: EventUserMessage, Content: question, ImageURL: imageURL, RequestID: requestID})
	c.emit(Event{Type: EventUsageUpdate, Usage: &usage, RequestID: requestID})

	started := time.Now()
	go c.dispatch(requestID, started, messages)

	return requestID, nil
}

// Cancel stops the in-flight request. The provider call is not aborted at the
// transport level; its eventual result simply no longer matches the pending
// id. The session is immediately submittable again.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopRequested = true
	c.pendingRequestID = ""
	c.dispatching = false
	c.revealing = false
}

// SetPlan updates the plan used for subsequent quota checks, after an upgrade
// or downgrade lands through billing.
func (c *Controller) SetPlan(plan plans.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = plan
}

// Identity returns the identity this session bills against.
func (c *Controller) Identity() ledger.Identity {
	return c.identity
}

func (c *Controller) Plan() plans.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// Dispatching reports whether a provider call is in flight.
func (c *Controller) Dispatching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatching
}

// Revealing reports whether a response is being progressively revealed.
func (c *Controller) Revealing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revealing
}

// Transcript returns a copy of the session transcript.
func (c *Controller) Transcript() []ai.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ai.Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Controller) dispatch(requestID string, started time.Time, messages []ai.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DispatchTimeout)
	defer cancel()

	defer func() {
		c.mu.Lock()
		if c.pendingRequestID == requestID {
			c.pendingRequestID = ""
			c.dispatching = false
			c.revealing = false
		}
		c.mu.Unlock()
	}()

	reply, err := c.dispatcher.SendMessage(ctx, messages)

	if !c.stillCurrent(requestID) {
		return
	}

	// Hold back trivially fast responses so the answer does not flash in.
	if elapsed := time.Since(started); elapsed < c.cfg.MinRevealLatency {
		time.Sleep(c.cfg.MinRevealLatency - elapsed)
	}
	// Cancellation may have happened during the wait.
	if !c.stillCurrent(requestID) {
		return
	}

	if err != nil {
		c.log.Error().Err(err).Str("session_id", c.sessionID).Str("request_id", requestID).
			Msg("ai dispatch failed")
		c.emit(Event{Type: EventWarning, Content: dispatchFailureMessage, RequestID: requestID})
		return
	}

	c.mu.Lock()
	c.revealing = true
	c.mu.Unlock()

	c.reveal(requestID, reply)

	// The full response is always the stored message, even when the reveal
	// was cut short.
	c.mu.Lock()
	c.transcript = append(c.transcript, ai.Message{Role: ai.RoleAssistant, Content: reply})
	c.mu.Unlock()

	c.saveMessage("assistant", reply, "")
	c.emit(Event{Type: EventAssistantMessage, Content: reply, RequestID: requestID})
}

// stillCurrent reports whether the request is still authoritative: not
// superseded by a newer submission and not stopped by the user.
func (c *Controller) stillCurrent(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingRequestID == requestID && !c.stopRequested
}

// dispatchMessagesLocked snapshots the transcript, with the system prompt
// prepended, for a provider call. Callers must hold c.mu.
func (c *Controller) dispatchMessagesLocked() []ai.Message {
	messages := make([]ai.Message, 0, len(c.transcript)+1)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, c.transcript...)
	return messages
}

func (c *Controller) emit(event Event) {
	if err := c.sink.Send(event); err != nil {
		c.log.Warn().Err(err).Str("session_id", c.sessionID).Str("event", event.Type).
			Msg("failed to deliver event")
	}
}

func (c *Controller) saveMessage(msgType, content, imageURL string) {
	if c.history == nil {
		return
	}
	if err := c.history.SaveMessage(c.sessionID, msgType, content, imageURL); err != nil {
		c.log.Warn().Err(err).Str("session_id", c.sessionID).Msg("failed to persist message")
	}
}

const (
	storageWarningMessage = "We couldn't check your remaining questions just now. " +
		"Please try again in a moment."
	dispatchFailureMessage = "Sorry, I couldn't get an answer to that one. " +
		"Please try asking again."
)

func limitMessage(plan plans.Plan) string {
	quota := plans.QuotaFor(plan)
	if plan.Paid() {
		return fmt.Sprintf("You've used all %d questions for today. "+
			"Your questions reset at midnight.", quota)
	}
	return fmt.Sprintf("You've used all %d free questions for today. "+
		"Upgrade to Gold or Diamond for a much bigger daily allowance.", quota)
}
