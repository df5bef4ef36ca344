package grouping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi/slackapitest"
	"github.com/xaenox/circle-bot/internal/storage"
)

type fakeClassifier struct {
	result models.ClassificationResult
	seen   []models.UserResponse
}

func (f *fakeClassifier) Classify(ctx context.Context, responses []models.UserResponse) models.ClassificationResult {
	f.seen = responses
	return f.result
}

// fakeGenerator names each channel after its first member unless that member
// is listed in fail.
type fakeGenerator struct {
	fail  map[string]error
	empty map[string]bool
	calls [][]string
}

func (f *fakeGenerator) Generate(ctx context.Context, responses []models.UserResponse) (*models.ChannelMetadata, error) {
	ids := make([]string, len(responses))
	for i, r := range responses {
		ids[i] = r.UserID
	}
	f.calls = append(f.calls, ids)

	first := responses[0].UserID
	if err := f.fail[first]; err != nil {
		return nil, err
	}
	name := "Topic " + first
	if f.empty[first] {
		name = "!!!"
	}
	return &models.ChannelMetadata{
		ChannelName:    name,
		InitialMessage: "Welcome, " + first,
		CallToAction:   "What brought you here?",
	}, nil
}

type fixture struct {
	store      *storage.MemoryStorage
	classifier *fakeClassifier
	generator  *fakeGenerator
	messenger  *slackapitest.Messenger
	orch       *Orchestrator
	eventID    int64
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:      storage.NewMemoryStorage(),
		classifier: &fakeClassifier{},
		generator:  &fakeGenerator{fail: map[string]error{}, empty: map[string]bool{}},
		messenger:  slackapitest.New(),
	}
	e, err := f.store.CreateEvent(ctx, time.Now().Add(-time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	f.eventID = e.ID
	for _, u := range users {
		if _, err := f.store.AddResponse(ctx, u, "answer from "+u); err != nil {
			t.Fatalf("AddResponse: %v", err)
		}
	}
	f.orch = NewOrchestrator(f.store, f.classifier, f.generator, f.messenger, time.Second, zaptest.NewLogger(t))
	return f
}

func TestFinalizeEventIsolatesGroupFailures(t *testing.T) {
	f := newFixture(t, "U1", "U2", "U3", "U4")
	f.classifier.result = models.Grouped([]models.Group{{"U1", "U2"}, {"U3", "U4"}})
	f.generator.fail["U3"] = errors.New("model overloaded")

	s := f.orch.FinalizeEvent(context.Background(), f.eventID)

	if !s.Success {
		t.Error("Success = false, want true")
	}
	if len(s.ChannelsCreated) != 1 || s.GroupsCreated != 2 {
		t.Errorf("channels = %v, groups = %d; want 1 channel for 2 groups", s.ChannelsCreated, s.GroupsCreated)
	}
	if got := FormatSummary(s); !strings.Contains(got, "1 of 2 group channel(s)") {
		t.Errorf("FormatSummary = %q", got)
	}
	if len(s.Errors) != 1 || !strings.Contains(s.Errors[0], "model overloaded") {
		t.Errorf("errors = %v", s.Errors)
	}

	wantName := fmt.Sprintf("topic-u1-event%d", f.eventID)
	if got := f.messenger.CreatedChannels(); len(got) != 1 || got[0] != wantName {
		t.Fatalf("created = %v, want [%s]", got, wantName)
	}
	channelID := s.ChannelsCreated[0]
	if invited := f.messenger.Invites[channelID]; len(invited) != 2 {
		t.Errorf("invited = %v", invited)
	}
	want := "👋 <@U1> <@U2>\n\nWelcome, U1\n\n💬 What brought you here?"
	if msgs := f.messenger.MessagesTo(channelID); len(msgs) != 1 || msgs[0] != want {
		t.Errorf("welcome = %q, want %q", msgs, want)
	}
}

func TestFinalizeEventFiltersSingletons(t *testing.T) {
	f := newFixture(t, "U1", "U2", "U3")
	f.classifier.result = models.Grouped([]models.Group{{"U1"}, {"U2", "U3"}})

	s := f.orch.FinalizeEvent(context.Background(), f.eventID)

	if !s.Success || len(s.Errors) != 0 {
		t.Errorf("summary = %+v", s)
	}
	if len(f.generator.calls) != 1 || strings.Join(f.generator.calls[0], ",") != "U2,U3" {
		t.Errorf("generator calls = %v, want only [U2 U3]", f.generator.calls)
	}
	if len(f.classifier.seen) != 3 {
		t.Errorf("classifier saw %d responses, want 3", len(f.classifier.seen))
	}
}

func TestFinalizeEventNoGroups(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result models.ClassificationResult
		want   string
	}{
		{"classifier failure", models.ClassificationFailed("quota exceeded"), "quota exceeded"},
		{"only singletons", models.Grouped([]models.Group{{"U1"}, {"U2"}}), "no groups"},
		{"empty", models.Grouped(nil), "no groups"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "U1", "U2")
			f.classifier.result = tc.result

			s := f.orch.FinalizeEvent(context.Background(), f.eventID)
			if s.Success {
				t.Error("Success = true, want false")
			}
			if len(s.Errors) != 1 || !strings.Contains(s.Errors[0], tc.want) {
				t.Errorf("errors = %v, want one containing %q", s.Errors, tc.want)
			}
			if len(f.messenger.CreatedChannels()) != 0 {
				t.Error("no channel should be created")
			}
			if s.ChannelsCreated == nil || s.Errors == nil {
				t.Error("lists should be non-nil")
			}
		})
	}
}

func TestFinalizeEventPerGroupErrors(t *testing.T) {
	f := newFixture(t, "U1", "U2", "U3", "U4", "U5", "U6", "U7", "U8")
	f.classifier.result = models.Grouped([]models.Group{
		{"X1", "X2"},       // nobody responded
		{"U1", "U2"},       // name sanitizes to nothing
		{"U3", "U4"},       // create fails
		{"U5", "U6"},       // invite fails
		{"U7", "U8", "U7"}, // succeeds, duplicate member dropped
	})
	f.generator.empty["U1"] = true
	f.messenger.FailCreate[fmt.Sprintf("topic-u3-event%d", f.eventID)] = true
	f.messenger.FailInvite[fmt.Sprintf("C-topic-u5-event%d", f.eventID)] = true

	s := f.orch.FinalizeEvent(context.Background(), f.eventID)

	if !s.Success || len(s.ChannelsCreated) != 1 || s.GroupsCreated != 5 {
		t.Fatalf("summary = %+v, want one channel out of 5 valid groups", s)
	}
	if len(s.Errors) != 4 {
		t.Fatalf("errors = %v, want 4", s.Errors)
	}
	for i, want := range []string{"no responses match", "channel_name", "create channel", "invite to"} {
		if !strings.Contains(s.Errors[i], want) {
			t.Errorf("errors[%d] = %q, want it to mention %q", i, s.Errors[i], want)
		}
	}
	if invited := f.messenger.Invites[s.ChannelsCreated[0]]; len(invited) != 2 {
		t.Errorf("invited = %v, want 2 distinct members", invited)
	}
}

func TestFormatSummary(t *testing.T) {
	s := &models.FinalizeSummary{EventID: 4, Success: true, GroupsCreated: 2, ChannelsCreated: []string{"C1", "C2"}}
	if got := FormatSummary(s); !strings.Contains(got, "2 of 2 group channel(s)") || strings.Contains(got, "error") {
		t.Errorf("FormatSummary = %q", got)
	}

	s = &models.FinalizeSummary{EventID: 4}
	for i := 0; i < 7; i++ {
		s.Errors = append(s.Errors, fmt.Sprintf("err-%d", i))
	}
	got := FormatSummary(s)
	if !strings.Contains(got, "err-4") || strings.Contains(got, "err-5") {
		t.Errorf("FormatSummary should list exactly five errors: %q", got)
	}
	if !strings.Contains(got, "and 2 more") {
		t.Errorf("FormatSummary should count the rest: %q", got)
	}
}
