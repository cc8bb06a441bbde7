package tutor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studypal_go_backend/internal/ai"
	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/plans"
	"studypal_go_backend/internal/tutor"
)

// recordingSink captures every event the controller emits.
type recordingSink struct {
	mu     sync.Mutex
	events []tutor.Event
}

func (s *recordingSink) Send(event tutor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) all() []tutor.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tutor.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) ofType(eventType string) []tutor.Event {
	var out []tutor.Event
	for _, e := range s.all() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls until an event of the given type arrives or the deadline
// passes.
func (s *recordingSink) waitFor(t *testing.T, eventType string) tutor.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if events := s.ofType(eventType); len(events) > 0 {
			return events[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q event", eventType)
	return tutor.Event{}
}

// chunksText joins the streamed chunks back into the revealed text.
func (s *recordingSink) chunksText() string {
	var sb strings.Builder
	for _, e := range s.ofType(tutor.EventAssistantChunk) {
		sb.WriteString(e.Content)
	}
	return sb.String()
}

// blockingDispatcher holds every call until its gate is closed.
type blockingDispatcher struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	reply string
	err   error
}

func newBlockingDispatcher(reply string) *blockingDispatcher {
	return &blockingDispatcher{gate: make(chan struct{}), reply: reply}
}

func (d *blockingDispatcher) SendMessage(_ context.Context, _ []ai.Message) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	<-d.gate
	return d.reply, d.err
}

func (d *blockingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// MockDispatcher is a testify mock for cases that only need call assertions.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) SendMessage(ctx context.Context, messages []ai.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

// failingStore rejects every write with a storage failure.
type failingStore struct{}

func (failingStore) GetUsage(_ context.Context, _ ledger.Identity, plan plans.Plan) (ledger.Usage, error) {
	return ledger.Usage{Limit: plans.QuotaFor(plan), Remaining: plans.QuotaFor(plan)}, nil
}

func (failingStore) RecordQuestion(_ context.Context, _ ledger.Identity, _ plans.Plan) (ledger.Usage, error) {
	return ledger.Usage{}, ledger.ErrStorageUnavailable
}

func testConfig() tutor.Config {
	cfg := tutor.DefaultConfig()
	cfg.MinRevealLatency = 0
	cfg.CharDelay = time.Millisecond
	cfg.PunctuationDelay = time.Millisecond
	cfg.DispatchTimeout = 2 * time.Second
	return cfg
}

func newTestController(t *testing.T, store ledger.Store, dispatcher ai.Dispatcher, sink tutor.Sink, cfg tutor.Config) *tutor.Controller {
	t.Helper()
	identity := ledger.Identity{DeviceID: uuid.New().String()}
	return tutor.NewController("session-1", identity, plans.Free, store, dispatcher, sink, nil, zerolog.Nop(), cfg)
}

func TestSubmit_RejectsEmptySubmission(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := new(MockDispatcher)
	controller := newTestController(t, ledger.NewMemoryStore(), dispatcher, sink, testConfig())

	_, err := controller.Submit(context.Background(), "", "")
	assert.ErrorIs(t, err, tutor.ErrEmptySubmission)

	_, err = controller.Submit(context.Background(), "   ", "")
	assert.ErrorIs(t, err, tutor.ErrEmptySubmission)

	assert.Empty(t, sink.all())
	dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestSubmit_ImageOnlySubmissionAccepted(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := new(MockDispatcher)
	dispatcher.On("SendMessage", mock.Anything, mock.Anything).Return("Looks like algebra.", nil)
	controller := newTestController(t, ledger.NewMemoryStore(), dispatcher, sink, testConfig())

	_, err := controller.Submit(context.Background(), "", "data:image/png;base64,aGk=")
	require.NoError(t, err)

	sink.waitFor(t, tutor.EventAssistantMessage)
	dispatcher.AssertExpectations(t)
}

func TestSubmit_LimitGateBlocksDispatch(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	sink := &recordingSink{}
	dispatcher := new(MockDispatcher)
	controller := newTestController(t, store, dispatcher, sink, testConfig())

	// Exhaust the free quota out of band.
	for i := 0; i < 5; i++ {
		_, err := store.RecordQuestion(ctx, controller.Identity(), plans.Free)
		require.NoError(t, err)
	}

	_, err := controller.Submit(ctx, "one more?", "")
	require.NoError(t, err)

	event := sink.waitFor(t, tutor.EventLimitReached)
	assert.Contains(t, event.Content, "5 free questions")

	// The AI collaborator is never invoked and the counter stays put.
	dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
	usage, err := store.GetUsage(ctx, controller.Identity(), plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 5, usage.QuestionsAsked)
}

func TestSubmit_SuccessfulExchange(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	sink := &recordingSink{}
	dispatcher := newBlockingDispatcher("The answer is 4. Try 3+3 next!")
	close(dispatcher.gate)
	controller := newTestController(t, store, dispatcher, sink, testConfig())

	_, err := controller.Submit(ctx, "What is 2+2?", "")
	require.NoError(t, err)

	final := sink.waitFor(t, tutor.EventAssistantMessage)
	assert.Equal(t, "The answer is 4. Try 3+3 next!", final.Content)

	// The streamed chunks reassemble into the full response.
	assert.Equal(t, final.Content, sink.chunksText())

	// User message and usage update precede the assistant response.
	userEvents := sink.ofType(tutor.EventUserMessage)
	require.Len(t, userEvents, 1)
	assert.Equal(t, "What is 2+2?", userEvents[0].Content)

	usageEvents := sink.ofType(tutor.EventUsageUpdate)
	require.Len(t, usageEvents, 1)
	assert.Equal(t, 1, usageEvents[0].Usage.QuestionsAsked)
	assert.Equal(t, 4, usageEvents[0].Usage.Remaining)

	transcript := controller.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, ai.RoleUser, transcript[0].Role)
	assert.Equal(t, ai.RoleAssistant, transcript[1].Role)

	// Lifecycle flags settle back to idle.
	assert.Eventually(t, func() bool {
		return !controller.Dispatching() && !controller.Revealing()
	}, time.Second, 5*time.Millisecond)
}

func TestCancel_SuppressesLateResult(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	sink := &recordingSink{}
	dispatcher := newBlockingDispatcher("4")
	controller := newTestController(t, store, dispatcher, sink, testConfig())

	_, err := controller.Submit(ctx, "What is 2+2?", "")
	require.NoError(t, err)
	assert.True(t, controller.Dispatching())

	controller.Cancel()

	// The session is idle and submittable again immediately, even though the
	// provider call is still running underneath.
	assert.False(t, controller.Dispatching())
	assert.False(t, controller.Revealing())

	// The provider resolves late; its result must be discarded silently.
	close(dispatcher.gate)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, sink.ofType(tutor.EventAssistantMessage))
	assert.Empty(t, sink.ofType(tutor.EventAssistantChunk))
	assert.Empty(t, sink.ofType(tutor.EventWarning))

	// Transcript holds the user message only.
	transcript := controller.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, ai.RoleUser, transcript[0].Role)

	// The question already recorded stays recorded; nothing is refunded and
	// nothing extra is charged.
	usage, err := store.GetUsage(ctx, controller.Identity(), plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.QuestionsAsked)
}

func TestNewSubmissionSupersedesInFlightOne(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	sink := &recordingSink{}

	// First question blocks; second question answers instantly.
	gateA := make(chan struct{})
	dispatcher := &scriptedDispatcher{
		replies: map[string]string{
			"question A": "answer A",
			"question B": "answer B",
		},
		gates: map[string]chan struct{}{"question A": gateA},
	}
	controller := newTestController(t, store, dispatcher, sink, testConfig())

	_, err := controller.Submit(ctx, "question A", "")
	require.NoError(t, err)
	_, err = controller.Submit(ctx, "question B", "")
	require.NoError(t, err)

	finalB := sink.waitFor(t, tutor.EventAssistantMessage)
	assert.Equal(t, "answer B", finalB.Content)

	// A resolves after B has taken over; its answer never appears.
	close(gateA)
	time.Sleep(100 * time.Millisecond)

	for _, e := range sink.ofType(tutor.EventAssistantMessage) {
		assert.NotEqual(t, "answer A", e.Content)
	}
	for _, m := range controller.Transcript() {
		assert.NotEqual(t, "answer A", m.Content)
	}
}

func TestRevealFlushesOnStop(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	reply := "Great question! First, look at the exponents. Then simplify each term."
	dispatcher := newBlockingDispatcher(reply)
	close(dispatcher.gate)

	cfg := testConfig()
	cfg.CharDelay = 20 * time.Millisecond
	controller := newTestController(t, ledger.NewMemoryStore(), dispatcher, sink, cfg)

	_, err := controller.Submit(ctx, "Help with exponents", "")
	require.NoError(t, err)

	// Let the animation get going, then stop it mid-flight.
	sink.waitFor(t, tutor.EventAssistantChunk)
	controller.Cancel()

	final := sink.waitFor(t, tutor.EventAssistantMessage)

	// The stored message is the complete response, never a truncated prefix,
	// and the flushed chunks reassemble into it.
	assert.Equal(t, reply, final.Content)
	assert.Equal(t, reply, sink.chunksText())

	transcript := controller.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, reply, transcript[1].Content)
}

func TestLongResponseRevealedWhole(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	reply := strings.TrimSpace(strings.Repeat("word ", 80))
	dispatcher := newBlockingDispatcher(reply)
	close(dispatcher.gate)
	controller := newTestController(t, ledger.NewMemoryStore(), dispatcher, sink, testConfig())

	_, err := controller.Submit(ctx, "Summarize the chapter", "")
	require.NoError(t, err)

	sink.waitFor(t, tutor.EventAssistantMessage)

	// One chunk, no per-rune animation.
	chunks := sink.ofType(tutor.EventAssistantChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, reply, chunks[0].Content)
}

func TestDispatchFailureBecomesWarning(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	sink := &recordingSink{}
	dispatcher := newBlockingDispatcher("")
	dispatcher.err = errors.New("upstream 500")
	close(dispatcher.gate)
	controller := newTestController(t, store, dispatcher, sink, testConfig())

	_, err := controller.Submit(ctx, "What is 2+2?", "")
	require.NoError(t, err)

	warning := sink.waitFor(t, tutor.EventWarning)
	assert.Contains(t, warning.Content, "couldn't get an answer")
	assert.Empty(t, sink.ofType(tutor.EventAssistantMessage))

	// Charge-on-attempt: the failed call still consumed the question.
	usage, err := store.GetUsage(ctx, controller.Identity(), plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.QuestionsAsked)

	assert.Eventually(t, func() bool {
		return !controller.Dispatching() && !controller.Revealing()
	}, time.Second, 5*time.Millisecond)
}

func TestStorageFailureBecomesWarning(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := new(MockDispatcher)
	controller := newTestController(t, failingStore{}, dispatcher, sink, testConfig())

	_, err := controller.Submit(context.Background(), "What is 2+2?", "")
	require.NoError(t, err)

	warning := sink.waitFor(t, tutor.EventWarning)
	assert.Contains(t, warning.Content, "remaining questions")

	// No dispatch when the write could not be guaranteed.
	dispatcher.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
	assert.Empty(t, controller.Transcript())
}

func TestMinimumLatencyFloor(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := newBlockingDispatcher("4")
	close(dispatcher.gate)

	cfg := testConfig()
	cfg.MinRevealLatency = 150 * time.Millisecond
	controller := newTestController(t, ledger.NewMemoryStore(), dispatcher, sink, cfg)

	started := time.Now()
	_, err := controller.Submit(context.Background(), "What is 2+2?", "")
	require.NoError(t, err)

	sink.waitFor(t, tutor.EventAssistantMessage)
	assert.GreaterOrEqual(t, time.Since(started), 150*time.Millisecond)
}

// scriptedDispatcher answers by the last user message, optionally blocking on
// a per-question gate.
type scriptedDispatcher struct {
	mu      sync.Mutex
	replies map[string]string
	gates   map[string]chan struct{}
}

func (d *scriptedDispatcher) SendMessage(_ context.Context, messages []ai.Message) (string, error) {
	var question string
	for _, m := range messages {
		if m.Role == ai.RoleUser {
			question = m.Content
		}
	}
	d.mu.Lock()
	gate := d.gates[question]
	reply := d.replies[question]
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return reply, nil
}
