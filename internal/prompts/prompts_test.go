package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi/slackapitest"
	"github.com/xaenox/circle-bot/internal/storage"
)

const botID = "UBOT"

func newTestAnnouncer(t *testing.T) (*Announcer, *storage.MemoryStorage, *slackapitest.Messenger) {
	t.Helper()
	store := storage.NewMemoryStorage()
	messenger := slackapitest.New()
	return NewAnnouncer(store, messenger, botID, zaptest.NewLogger(t)), store, messenger
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestAnnouncer(t)

	if _, err := a.Resolve(ctx, ""); !errors.Is(err, ErrNoPrompt) {
		t.Errorf("Resolve on empty library = %v, want ErrNoPrompt", err)
	}

	created, err := a.Resolve(ctx, "  What did you learn this week? ")
	if err != nil {
		t.Fatalf("Resolve(text): %v", err)
	}
	if created.Kind != models.PromptPrivate || created.Content != "What did you learn this week?" {
		t.Errorf("Resolve(text) = %+v", created)
	}

	byID, err := a.Resolve(ctx, "#1")
	if err != nil || byID.ID != created.ID {
		t.Errorf("Resolve(#1) = %+v, %v", byID, err)
	}
	picked, err := a.Resolve(ctx, "")
	if err != nil || picked.ID != created.ID {
		t.Errorf("Resolve(\"\") = %+v, %v; want the stored prompt", picked, err)
	}

	recap, _ := store.CreatePrompt(ctx, models.PromptAggregated, "recap")
	for _, arg := range []string{"#abc", "#0", "#" + strings.Repeat("9", 30)} {
		if _, err := a.Resolve(ctx, arg); !apperrors.IsValidation(err) {
			t.Errorf("Resolve(%q) = %v, want validation error", arg, err)
		}
	}
	if _, err := a.Resolve(ctx, "#99"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Resolve(#99) = %v, want ErrNotFound", err)
	}
	if _, err := a.Resolve(ctx, "#2"); recap.ID != 2 || !apperrors.IsValidation(err) {
		t.Errorf("Resolve on a recap = %v, want validation error", err)
	}
}

func TestAnnounceToRegistry(t *testing.T) {
	ctx := context.Background()
	a, store, messenger := newTestAnnouncer(t)

	e, _ := store.CreateEvent(ctx, time.Now(), 24*time.Hour)
	p, _ := store.CreatePrompt(ctx, models.PromptPrivate, "Favorite board game?")
	if _, err := store.AddMembers(ctx, "U1", botID, "U2", "U3"); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	messenger.Members = []string{"U9"}
	messenger.FailOpen["U2"] = true

	report, err := a.Announce(ctx, e, p)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	want := Report{PromptID: p.ID, Audience: AudienceRegistry, Sent: 2, Failed: 1}
	if *report != want {
		t.Errorf("report = %+v, want %+v", *report, want)
	}

	msgs := messenger.MessagesTo("D-U1")
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Favorite board game?") || !strings.Contains(msgs[0], "event 1") {
		t.Errorf("DM to U1 = %q", msgs)
	}
	if got := messenger.MessagesTo("D-" + botID); len(got) != 0 {
		t.Errorf("bot messaged itself: %q", got)
	}
	if got := messenger.MessagesTo("D-U9"); len(got) != 0 {
		t.Errorf("workspace member outside the registry was messaged: %q", got)
	}

	linked, _ := store.GetEventPrompts(ctx, e.ID)
	if len(linked) != 1 || linked[0].ID != p.ID {
		t.Errorf("event prompts = %+v", linked)
	}
}

func TestAnnounceFallsBackToWorkspace(t *testing.T) {
	ctx := context.Background()
	a, store, messenger := newTestAnnouncer(t)

	e, _ := store.CreateEvent(ctx, time.Now(), time.Hour)
	p, _ := store.CreatePrompt(ctx, models.PromptPrivate, "Weekend plans?")
	messenger.Members = []string{"U1", botID, "U3"}

	report, err := a.Announce(ctx, e, p)
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if report.Audience != AudienceWorkspace || report.Sent != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	messenger.FailMembers = true
	if _, err := a.Announce(ctx, e, p); err == nil {
		t.Error("Announce should fail when the workspace cannot be listed")
	}

	if _, err := a.Announce(ctx, &models.Event{ID: 42}, p); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Announce for a missing event = %v, want ErrNotFound", err)
	}
}

func TestBroadcastCountsFailures(t *testing.T) {
	messenger := slackapitest.New()
	messenger.FailSend["D-U2"] = true
	messenger.FailOpen["U4"] = true

	sent, failed := Broadcast(context.Background(), messenger, []string{"U1", "U2", "U3", "U4", "U5"}, "hello", zaptest.NewLogger(t))
	if sent != 3 || failed != 2 {
		t.Errorf("Broadcast = %d sent, %d failed; want 3 and 2", sent, failed)
	}
}

type stubFinalizer struct {
	summary *models.FinalizeSummary
}

func (s *stubFinalizer) FinalizeEvent(ctx context.Context, eventID int64) *models.FinalizeSummary {
	return s.summary
}

func TestRecorderStoresRecap(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	e, _ := store.CreateEvent(ctx, time.Now().Add(-2*time.Hour), time.Hour)

	next := &stubFinalizer{summary: &models.FinalizeSummary{
		EventID:         e.ID,
		Success:         true,
		GroupsCreated:   1,
		ChannelsCreated: []string{"C1"},
	}}
	r := NewRecorder(next, store, zaptest.NewLogger(t))

	if got := r.FinalizeEvent(ctx, e.ID); got != next.summary {
		t.Errorf("FinalizeEvent = %+v, want the wrapped summary", got)
	}
	linked, _ := store.GetEventPrompts(ctx, e.ID)
	if len(linked) != 1 || linked[0].Kind != models.PromptAggregated || !strings.Contains(linked[0].Content, "1 of 1 group channel(s)") {
		t.Errorf("recap = %+v", linked)
	}

	next.summary = nil
	if got := r.FinalizeEvent(ctx, e.ID); got != nil {
		t.Errorf("FinalizeEvent = %+v, want nil", got)
	}
	if all, _ := store.ListPrompts(ctx, models.PromptAggregated); len(all) != 1 {
		t.Errorf("recaps = %d, want 1", len(all))
	}
}
