package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/opsdesk/internal/api"
	"github.com/tOgg1/opsdesk/internal/events"
	"github.com/tOgg1/opsdesk/internal/models"
	"github.com/tOgg1/opsdesk/internal/prefs"
	"github.com/tOgg1/opsdesk/internal/tasks"
)

var (
	baseTime = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	alice    = models.UserRef{ID: 1, DisplayName: "alice"}
	bob      = models.UserRef{ID: 2, DisplayName: "bob"}
	errBoom  = errors.New("boom")
)

type createCall struct {
	ChannelID int64
	Req       api.CreateMessageRequest
}

// fakeAPI is an in-memory backend. Gates, when set, block the matching call
// until a value is received or the gate is closed, so tests can interleave
// REST completions with push events deterministically.
type fakeAPI struct {
	mu sync.Mutex

	nextID   int64
	channels []models.Channel
	history  map[int64][]models.Message
	tasks    map[int64]models.Task

	createGate chan struct{}
	listGate   chan struct{}

	createErr       func(n int, req api.CreateMessageRequest) error
	listErr         error
	listChannelsErr error
	deleteErr       map[models.MessageID]error
	patchErr        error

	created      []createCall
	deleted      []models.MessageID
	listCalls    []int64
	channelCalls int
	dmCalls      []int64
	taskPatches  []models.TaskStatus
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		nextID:    500,
		history:   make(map[int64][]models.Message),
		tasks:     make(map[int64]models.Task),
		deleteErr: make(map[models.MessageID]error),
	}
}

func waitGate(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) ListChannels(context.Context) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	if f.listChannelsErr != nil {
		return nil, f.listChannelsErr
	}
	out := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, models.CloneChannel(ch))
	}
	return out, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, channelID int64, limit int) ([]models.Message, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, channelID)
	gate := f.listGate
	f.mu.Unlock()

	if err := waitGate(ctx, gate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	msgs := f.history[channelID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, models.CloneMessage(msg))
	}
	return out, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, channelID int64, req api.CreateMessageRequest) (models.Message, error) {
	f.mu.Lock()
	f.created = append(f.created, createCall{ChannelID: channelID, Req: req})
	n := len(f.created)
	gate := f.createGate
	failFn := f.createErr
	f.mu.Unlock()

	if err := waitGate(ctx, gate); err != nil {
		return models.Message{}, err
	}
	if failFn != nil {
		if err := failFn(n, req); err != nil {
			return models.Message{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sender := alice
	msg := models.Message{
		ID:           models.ServerMessageID(f.nextID),
		ClientID:     req.ClientID,
		ChannelID:    channelID,
		Sender:       &sender,
		Content:      req.Content,
		CreatedAt:    baseTime.Add(time.Duration(f.nextID) * time.Second),
		Attachments:  req.Attachments,
		ReplyToID:    req.ReplyToID,
		LinkedTaskID: req.LinkedTaskID,
		Priority:     req.Priority,
		Metadata:     req.Metadata,
	}
	f.history[channelID] = append(f.history[channelID], msg)
	return models.CloneMessage(msg), nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, _ int64, id models.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) PatchMessage(_ context.Context, channelID int64, patch models.MessagePatch) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return models.Message{}, f.patchErr
	}
	for i, msg := range f.history[channelID] {
		if msg.ID == patch.ID {
			f.history[channelID][i] = patch.Apply(msg)
			return models.CloneMessage(f.history[channelID][i]), nil
		}
	}
	return models.Message{}, &api.Error{Status: 404}
}

func (f *fakeAPI) GetOrCreateDM(_ context.Context, userID int64) (models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls = append(f.dmCalls, userID)
	for _, ch := range f.channels {
		if ch.Kind == models.ChannelKindDirect && ch.HasMember(userID) {
			return ch, nil
		}
	}
	ch := models.Channel{ID: 900 + userID, Name: "dm", Kind: models.ChannelKindDirect, MemberIDs: []int64{alice.ID, userID}}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeAPI) ListTasks(context.Context) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Task, 0, len(f.tasks))
	for _, task := range f.tasks {
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeAPI) PatchTaskStatus(_ context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return models.Task{}, &api.Error{Status: 404}
	}
	task.Status = status
	f.tasks[id] = task
	f.taskPatches = append(f.taskPatches, status)
	return task, nil
}

func (f *fakeAPI) createCalls() []createCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createCall(nil), f.created...)
}

// recorder collects published notifications.
type recorder struct {
	mu  sync.Mutex
	got []events.Notification
}

func (r *recorder) handle(n *events.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, *n)
}

func (r *recorder) ofKind(kind events.Kind) []events.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Notification
	for _, n := range r.got {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []int64
}

func (f *fakeTransport) SendTyping(_ context.Context, channelID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channelID)
	return nil
}

type harness struct {
	engine    *Engine
	api       *fakeAPI
	rec       *recorder
	transport *fakeTransport
	now       time.Time
	nowMu     sync.Mutex
}

func (h *harness) clock() time.Time {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	fake := newFakeAPI()
	fake.channels = []models.Channel{
		{ID: 1, Name: "general", Kind: models.ChannelKindGroup, MemberIDs: []int64{1, 2}},
		{ID: 2, Name: "ops", Kind: models.ChannelKindDepartment, MemberIDs: []int64{1, 2}},
		{ID: 3, Name: "random", Kind: models.ChannelKindGroup, MemberIDs: []int64{1, 2}},
		{ID: 7, Name: "launch", Kind: models.ChannelKindGroup, MemberIDs: []int64{1, 2}},
	}

	h := &harness{
		api:       fake,
		rec:       &recorder{},
		transport: &fakeTransport{},
		now:       baseTime.Add(-time.Hour),
	}

	publisher := events.NewInMemoryPublisher()
	_, err := publisher.SubscribeFunc(events.Filter{}, h.rec.handle)
	require.NoError(t, err)

	opts := Options{
		API:              fake,
		Self:             alice,
		Tasks:            tasks.NewMirror(fake),
		Prefs:            prefs.New(""),
		Transport:        h.transport,
		Publisher:        publisher,
		DefaultChannelID: 1,
		Now:              h.clock,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.engine = New(opts)
	require.NoError(t, h.engine.RefreshChannels(context.Background()))
	return h
}

// activate switches to channelID and waits for the history fetch.
func (h *harness) activate(t *testing.T, channelID int64) {
	t.Helper()
	act, err := h.engine.Switch(context.Background(), channelID)
	require.NoError(t, err)
	require.NoError(t, act.Wait(context.Background()))
}

func (h *harness) push(ev models.PushEvent) {
	h.engine.ApplyEvent(context.Background(), ev)
}

func messageEvent(channelID int64, id models.MessageID, sender models.UserRef, content string, at time.Time) models.PushEvent {
	s := sender
	return models.PushEvent{
		Kind:      models.EventMessage,
		ChannelID: channelID,
		Message: &models.Message{
			ID:        id,
			ChannelID: channelID,
			Sender:    &s,
			Content:   content,
			CreatedAt: at,
		},
	}
}

func ids(msgs []models.Message) []models.MessageID {
	out := make([]models.MessageID, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ID)
	}
	return out
}

// set mutates the fake under its lock; background fetches may be running.
func (f *fakeAPI) set(fn func(f *fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAPI) counts() (channelCalls, listCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelCalls, len(f.listCalls)
}
