package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"personarelay/internal/models"
	"personarelay/internal/service/ai"
	"personarelay/internal/session"
	"personarelay/internal/storage"
)

type fakeProfiles map[string]*models.CharacterProfile

func (f fakeProfiles) Get(name string) (*models.CharacterProfile, bool) {
	p, ok := f[name]
	return p, ok
}

func (f fakeProfiles) Names(owner string) []string {
	var names []string
	for name, p := range f {
		if p.Owner == "" || p.Owner == owner {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Broadcast(ctx context.Context, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

type fakeReplier struct {
	result ai.Result
	err    error
	reqs   []ai.ReplyRequest
}

func (f *fakeReplier) Generate(_ context.Context, req ai.ReplyRequest) (ai.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

func (f *fakeReplier) Interpret(_ context.Context, _, character, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return character + " says " + text, nil
}

type fakeScheduler struct {
	reqs []ai.ReplyRequest
}

func (f *fakeScheduler) ScheduleReply(req ai.ReplyRequest) error {
	f.reqs = append(f.reqs, req)
	return nil
}

type failingHistory struct{ storage.HistoryStore }

func (failingHistory) Append(context.Context, string, string, models.HistoryEntry) error {
	return errors.New("disk full")
}

func (failingHistory) Setup(context.Context, string, string) error { return nil }

type fixture struct {
	relay     *Relay
	history   storage.HistoryStore
	events    *recorder
	replier   *fakeReplier
	scheduler *fakeScheduler
}

func newFixture(t *testing.T, opts Options, profiles fakeProfiles) *fixture {
	t.Helper()
	history, err := storage.NewFileHistory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		history:   history,
		events:    &recorder{},
		replier:   &fakeReplier{},
		scheduler: &fakeScheduler{},
	}
	resolver := session.NewResolver(session.NewMemoryStore(), history)
	f.relay = New(resolver, profiles, history, f.replier, f.events, opts)
	f.relay.SetScheduler(f.scheduler)
	return f
}

func elvithProfiles() fakeProfiles {
	return fakeProfiles{
		"Elvith Ma'for": {Name: "Elvith Ma'for", Owner: "Fullgazz"},
		"Bran":          {Name: "Bran", Owner: "Fullgazz"},
	}
}

func TestProcessBatchPipeline(t *testing.T) {
	f := newFixture(t, Options{AutoReply: true}, elvithProfiles())
	ctx := context.Background()

	events, err := f.relay.ProcessBatch(ctx, Batch{Client: "Fullgazz", Lines: []string{
		"[Fullgazz] Elvith Ma'for: [Talk] Hello there",
		"[OtherAcct] Bob: [Talk] How are you?",
		"<c>[Crafting]</c>",
		"",
		"The door creaks open.",
	}})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	want := []string{
		models.EventCharacterChange,
		models.EventNewMessage,
		models.EventNewMessage,
		models.EventPlayerMessage,
		models.EventNewMessage,
	}
	got := f.events.names()
	if len(got) != len(want) || len(events) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] || events[i].Name != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
		if events[i].Room != "Fullgazz" {
			t.Fatalf("event %d not scoped to the client room", i)
		}
	}

	own := events[1].Data.(models.NewMessage)
	if !own.IsOwn || own.Character != "Elvith Ma'for" || own.Message != "<strong>Elvith Ma'for:</strong> Hello there" {
		t.Fatalf("unexpected own message %#v", own)
	}
	if own.OriginalMessage == nil || *own.OriginalMessage != "Hello there" {
		t.Fatalf("original message missing")
	}
	player := events[3].Data.(models.PlayerMessage)
	if player.Character != "Elvith Ma'for" || player.PlayerName != "Bob" || player.Message != "How are you?" {
		t.Fatalf("unexpected player message %#v", player)
	}
	raw := events[4].Data.(models.NewMessage)
	if raw.OriginalMessage != nil || raw.Message != "The door creaks open." {
		t.Fatalf("unparsed line must pass through raw: %#v", raw)
	}

	entries, err := f.history.ReadAll(ctx, "Fullgazz", "Elvith Ma'for")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Sender != models.SenderSelf || entries[1].Sender != models.SenderOther {
		t.Fatalf("unexpected history %#v", entries)
	}
	if entries[1].Message != "[OtherAcct] Bob: [Talk] How are you?" {
		t.Fatalf("history must keep the raw line, got %q", entries[1].Message)
	}

	if len(f.scheduler.reqs) != 1 {
		t.Fatalf("expected one scheduled reply, got %d", len(f.scheduler.reqs))
	}
	req := f.scheduler.reqs[0]
	if req.Character != "Elvith Ma'for" || req.PlayerName != "Bob" || req.Message != "How are you?" || req.Owner != "Fullgazz" {
		t.Fatalf("unexpected reply request %#v", req)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	events, err := f.relay.ProcessBatch(context.Background(), Batch{Client: "Fullgazz"})
	if err != nil || len(events) != 0 || len(f.events.names()) != 0 {
		t.Fatalf("empty batch must be a no-op: %v %v", events, err)
	}
}

func TestProcessBatchOwnSpeechNeverSchedules(t *testing.T) {
	f := newFixture(t, Options{AutoReply: true}, elvithProfiles())
	_, err := f.relay.ProcessBatch(context.Background(), Batch{Client: "Fullgazz", Lines: []string{
		"[Fullgazz] Elvith Ma'for: [Talk] Hello there",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.scheduler.reqs) != 0 {
		t.Fatalf("own speech must not trigger generation")
	}
}

func TestProcessBatchSwitchesOncePerChange(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	_, err := f.relay.ProcessBatch(context.Background(), Batch{Client: "Fullgazz", Lines: []string{
		"[Fullgazz] Elvith Ma'for: [Talk] one",
		"[Fullgazz] Elvith Ma'for: [Talk] two",
		"[Fullgazz] Bran: [Talk] three",
	}})
	if err != nil {
		t.Fatal(err)
	}
	changes := 0
	for _, name := range f.events.names() {
		if name == models.EventCharacterChange {
			changes++
		}
	}
	if changes != 2 {
		t.Fatalf("expected 2 character changes, got %d", changes)
	}
}

func TestProcessBatchWithoutCharacters(t *testing.T) {
	f := newFixture(t, Options{AutoReply: true}, fakeProfiles{})
	events, err := f.relay.ProcessBatch(context.Background(), Batch{Client: "Fullgazz", Lines: []string{
		"Guard: [Talk] Halt!",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected new_message + player_message, got %d", len(events))
	}
	if len(f.scheduler.reqs) != 0 {
		t.Fatalf("no active character means no reply")
	}
}

func TestProcessBatchStorageFailureAborts(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	resolver := session.NewResolver(session.NewMemoryStore(), nil)
	r := New(resolver, elvithProfiles(), failingHistory{}, f.replier, f.events, Options{})

	events, err := r.ProcessBatch(context.Background(), Batch{Client: "Fullgazz", Lines: []string{
		"[Fullgazz] Elvith Ma'for: [Talk] Hello there",
		"[OtherAcct] Bob: [Talk] How are you?",
	}})
	if err == nil {
		t.Fatalf("expected storage error")
	}
	for _, ev := range events {
		if ev.Name == models.EventNewMessage {
			t.Fatalf("line that failed to persist must not be announced")
		}
	}
}

func TestProcessBatchOverride(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	events, err := f.relay.ProcessBatch(context.Background(), Batch{
		Client:   "Fullgazz",
		Override: "Bran",
		Lines:    []string{"Guard: [Talk] Halt!"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Name != models.EventCharacterChange {
		t.Fatalf("override must announce the switch first")
	}
	if msg := events[1].Data.(models.NewMessage); msg.Character != "Bran" {
		t.Fatalf("line attributed to %q", msg.Character)
	}
}

func TestRequestReply(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	f.replier.result = ai.Result{Options: []string{"a", "b", "c"}}

	res, err := f.relay.RequestReply(context.Background(), ai.ReplyRequest{Owner: "Fullgazz", Message: "hi", PlayerName: "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Character != "Bran" {
		t.Fatalf("expected first owned character as default, got %q", res.Character)
	}
	if len(res.Responses) != 3 || res.OriginalMessage != "hi" || res.PlayerName != "Bob" {
		t.Fatalf("unexpected result %#v", res)
	}

	empty := newFixture(t, Options{}, fakeProfiles{})
	res, err = empty.relay.RequestReply(context.Background(), ai.ReplyRequest{Owner: "Fullgazz", Message: "hi"})
	if err != nil || res.Responses == nil || len(res.Responses) != 0 {
		t.Fatalf("no character must yield empty responses: %#v %v", res, err)
	}
	if len(empty.replier.reqs) != 0 {
		t.Fatalf("generator must not be called without a character")
	}
}

func TestRunReplyBroadcasts(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	f.replier.result = ai.Result{Err: errors.New("timeout")}
	f.relay.RunReply(context.Background(), ai.ReplyRequest{Owner: "Fullgazz", Character: "Bran", Message: "hi"})

	names := f.events.names()
	if len(names) != 1 || names[0] != models.EventAIReply {
		t.Fatalf("events = %v", names)
	}
	res := f.events.events[0].Data.(models.ReplyResult)
	if len(res.Responses) != 0 || res.Error == "" {
		t.Fatalf("unexpected reply %#v", res)
	}
}

func TestRunReplyBroadcastsAfterDeadline(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	f.replier.result = ai.Result{Err: context.DeadlineExceeded}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	f.relay.RunReply(ctx, ai.ReplyRequest{Owner: "Fullgazz", Character: "Bran", Message: "hi"})

	names := f.events.names()
	if len(names) != 1 || names[0] != models.EventAIReply {
		t.Fatalf("events = %v", names)
	}
	res := f.events.events[0].Data.(models.ReplyResult)
	if len(res.Responses) != 0 || res.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("unexpected reply %#v", res)
	}
}

func TestActivateAndCharacters(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	ctx := context.Background()

	if _, err := f.relay.Activate(ctx, "Fullgazz", "Nobody"); !errors.Is(err, session.ErrUnknownCharacter) {
		t.Fatalf("expected ErrUnknownCharacter, got %v", err)
	}
	name, err := f.relay.Activate(ctx, "Fullgazz", "Elvith Ma'for")
	if err != nil || name != "Elvith Ma'for" {
		t.Fatalf("activate: %q %v", name, err)
	}
	active, names, err := f.relay.Characters(ctx, "Fullgazz")
	if err != nil || active != "Elvith Ma'for" || len(names) != 2 {
		t.Fatalf("characters: %q %v %v", active, names, err)
	}
	if got := f.events.names(); len(got) != 1 || got[0] != models.EventCharacterChange {
		t.Fatalf("events = %v", got)
	}
}

func TestInterpret(t *testing.T) {
	f := newFixture(t, Options{}, elvithProfiles())
	out, err := f.relay.Interpret(context.Background(), "Fullgazz", "", "ola")
	if err != nil {
		t.Fatal(err)
	}
	if out.Character != "Bran" || out.Translated != "Bran says ola" || out.Original != "ola" {
		t.Fatalf("unexpected interpretation %#v", out)
	}
	if _, err := f.relay.Interpret(context.Background(), "Fullgazz", "Bran", "  "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}
