package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/circle-bot/internal/models"
	"github.com/xaenox/circle-bot/internal/slackapi/slackapitest"
	"github.com/xaenox/circle-bot/internal/storage"
)

const (
	testChannel = "C100"
	testThread  = "1712345678.123456"
)

var testKey = models.ThreadKey{ChannelID: testChannel, ThreadTS: testThread}

type fakeSummarizer struct {
	topic string
	err   error
	calls []string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, messages []string) (string, error) {
	f.calls = append(f.calls, strings.Join(messages, "|"))
	return f.topic, f.err
}

type harness struct {
	store      *storage.MemoryStorage
	messenger  *slackapitest.Messenger
	summarizer *fakeSummarizer
	tracker    *Tracker
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		store:      storage.NewMemoryStorage(),
		messenger:  slackapitest.New(),
		summarizer: &fakeSummarizer{topic: "Rust Async Runtimes"},
	}
	engine := NewEngine(h.store, h.messenger, h.summarizer, config, logger)
	h.tracker = NewTracker(h.store, engine, logger)
	return h
}

func (h *harness) message(t *testing.T, userID string) *models.InterventionRecord {
	t.Helper()
	rec, err := h.tracker.RecordMessage(context.Background(), testChannel, testThread, userID, "1712345679.000001", "reply from "+userID)
	if err != nil {
		t.Fatalf("RecordMessage(%s): %v", userID, err)
	}
	return rec
}

func (h *harness) interventions(t *testing.T) []*models.InterventionRecord {
	t.Helper()
	recs, err := h.store.ListInterventions(context.Background(), testKey)
	if err != nil {
		t.Fatalf("ListInterventions: %v", err)
	}
	return recs
}

func TestDecide(t *testing.T) {
	for _, tc := range []struct {
		engaged int
		current models.InterventionType
		want    models.InterventionType
	}{
		{0, models.InterventionNone, models.InterventionNone},
		{1, models.InterventionNone, models.InterventionNone},
		{2, models.InterventionNone, models.InterventionDMPair},
		{2, models.InterventionDMPair, models.InterventionNone},
		{3, models.InterventionNone, models.InterventionEphemeral},
		{3, models.InterventionDMPair, models.InterventionEphemeral},
		{3, models.InterventionEphemeral, models.InterventionNone},
		{3, models.InterventionCreateChannel, models.InterventionNone},
		{4, models.InterventionNone, models.InterventionCreateChannel},
		{4, models.InterventionEphemeral, models.InterventionCreateChannel},
		{9, models.InterventionDMPair, models.InterventionCreateChannel},
		{9, models.InterventionCreateChannel, models.InterventionNone},
		{2, models.InterventionCreateChannel, models.InterventionNone},
	} {
		if got := Decide(tc.engaged, tc.current); got != tc.want {
			t.Errorf("Decide(%d, %s) = %s, want %s", tc.engaged, tc.current, got, tc.want)
		}
	}
}

func TestEscalationLadder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.messenger.Replies = []string{"root", "a", "b", "c", "d", "e", "f"}

	if rec := h.message(t, "U1"); rec != nil {
		t.Fatalf("single participant triggered %+v", rec)
	}

	rec := h.message(t, "U2")
	if rec == nil || rec.InterventionType != models.InterventionDMPair {
		t.Fatalf("second participant = %+v, want dm_pair", rec)
	}
	if !rec.Successful || len(rec.TargetUserIDs) != 2 {
		t.Errorf("dm_pair record = %+v", rec)
	}
	if msgs := h.messenger.MessagesTo("D-U1"); len(msgs) != 1 || !strings.Contains(msgs[0], "<@U2>") {
		t.Errorf("DM to U1 = %v", msgs)
	}
	if msgs := h.messenger.MessagesTo("D-U2"); len(msgs) != 1 || !strings.Contains(msgs[0], "<@U1>") {
		t.Errorf("DM to U2 = %v", msgs)
	}

	// A further qualifying signal at the same level does nothing.
	if rec := h.message(t, "U1"); rec != nil {
		t.Errorf("repeat signal produced %+v", rec)
	}
	if n := len(h.interventions(t)); n != 1 {
		t.Fatalf("got %d interventions, want 1", n)
	}

	rec = h.message(t, "U3")
	if rec == nil || rec.InterventionType != models.InterventionEphemeral {
		t.Fatalf("third participant = %+v, want ephemeral", rec)
	}
	if h.messenger.EphemeralCount() != 3 {
		t.Errorf("ephemeral count = %d, want 3", h.messenger.EphemeralCount())
	}
	for _, m := range h.messenger.Ephemerals {
		if m.ThreadTS != testThread || m.ChannelID != testChannel {
			t.Errorf("ephemeral posted outside the thread: %+v", m)
		}
	}

	rec = h.message(t, "U4")
	if rec == nil || rec.InterventionType != models.InterventionCreateChannel {
		t.Fatalf("fourth participant = %+v, want create_channel", rec)
	}
	wantName := "discussion-rust-async-runtimes-123456"
	if got := h.messenger.CreatedChannels(); len(got) != 1 || got[0] != wantName {
		t.Fatalf("created channels = %v, want [%s]", got, wantName)
	}
	if rec.CreatedChannelID != "C-"+wantName {
		t.Errorf("created channel id = %q", rec.CreatedChannelID)
	}
	if invited := h.messenger.Invites[rec.CreatedChannelID]; len(invited) != 4 || invited[0] != "U1" {
		t.Errorf("invited = %v, want U1 first (highest score)", invited)
	}
	welcome := h.messenger.MessagesTo(rec.CreatedChannelID)
	if len(welcome) != 1 || !strings.HasPrefix(welcome[0], "👋 <@U1> <@U2> <@U3> <@U4>") {
		t.Errorf("welcome = %v", welcome)
	}
	if len(h.summarizer.calls) != 1 || h.summarizer.calls[0] != "root|a|b|c|d" {
		t.Errorf("summarizer saw %v, want the first 5 messages", h.summarizer.calls)
	}

	if rec := h.message(t, "U5"); rec != nil {
		t.Errorf("fifth participant produced %+v", rec)
	}

	thread, err := h.store.GetThread(context.Background(), testKey)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.InterventionType != models.InterventionCreateChannel || !thread.BotIntervened {
		t.Errorf("thread = %+v", thread)
	}
	if n := len(h.interventions(t)); n != 3 {
		t.Errorf("got %d interventions, want 3", n)
	}
}

func TestReactionsCountTowardEngagement(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	h.message(t, "U1")
	if rec, err := h.tracker.RecordReaction(ctx, testChannel, testThread, "U2"); err != nil || rec != nil {
		t.Fatalf("first reaction = %+v, %v; want nothing (score 5)", rec, err)
	}
	rec, err := h.tracker.RecordReaction(ctx, testChannel, testThread, "U2")
	if err != nil {
		t.Fatalf("RecordReaction: %v", err)
	}
	if rec == nil || rec.InterventionType != models.InterventionDMPair {
		t.Errorf("second reaction = %+v, want dm_pair", rec)
	}

	p, err := h.store.GetParticipant(ctx, testKey, "U2")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.ReactionCount != 2 || p.EngagementScore != 10 {
		t.Errorf("participant = %+v", p)
	}
}

func TestFailedInterventionIsNotRetried(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.messenger.FailOpen["U2"] = true

	h.message(t, "U1")
	rec := h.message(t, "U2")
	if rec == nil || rec.Successful {
		t.Fatalf("dm_pair with a failing DM = %+v, want successful=false", rec)
	}
	// The other half of the pair is still attempted.
	if msgs := h.messenger.MessagesTo("D-U1"); len(msgs) != 1 {
		t.Errorf("DM to U1 = %v", msgs)
	}

	h.messenger.FailOpen["U2"] = false
	if rec := h.message(t, "U2"); rec != nil {
		t.Errorf("retry after failure produced %+v", rec)
	}

	thread, _ := h.store.GetThread(context.Background(), testKey)
	if thread.InterventionType != models.InterventionDMPair {
		t.Errorf("level = %s, want dm_pair kept after failure", thread.InterventionType)
	}
	p, _ := h.store.GetParticipant(context.Background(), testKey, "U2")
	if p.EngagementScore != 20 {
		t.Errorf("score = %d, counters must not roll back", p.EngagementScore)
	}
}

func TestChannelTopicFallback(t *testing.T) {
	for _, tc := range []struct {
		name    string
		setup   func(h *harness)
		wantTag string
	}{
		{"summarizer error", func(h *harness) { h.summarizer.err = errors.New("quota") }, "discussion-discussion-123456"},
		{"empty topic", func(h *harness) { h.summarizer.topic = "  " }, "discussion-discussion-123456"},
		{"replies unavailable", func(h *harness) { h.messenger.FailReplies = true }, "discussion-discussion-123456"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Config{MaxChannelMembers: 3})
			h.messenger.Replies = []string{"root"}
			tc.setup(h)

			// Four users engage before the engine sees the thread, so the
			// first evaluation goes straight to a channel.
			for _, u := range []string{"U1", "U2", "U3"} {
				if _, err := h.store.RecordSignal(context.Background(), models.Signal{Thread: testKey, UserID: u, Kind: models.SignalMessage}); err != nil {
					t.Fatalf("RecordSignal: %v", err)
				}
			}
			rec := h.message(t, "U4")
			if rec == nil || rec.InterventionType != models.InterventionCreateChannel {
				t.Fatalf("rec = %+v, want create_channel", rec)
			}
			if got := h.messenger.CreatedChannels(); len(got) != 1 || got[0] != tc.wantTag {
				t.Errorf("created = %v, want %s", got, tc.wantTag)
			}
			if len(rec.TargetUserIDs) != 3 {
				t.Errorf("targets = %v, want capped at 3", rec.TargetUserIDs)
			}
		})
	}
}

func TestCreateChannelFailureRecorded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.messenger.FailCreate["discussion-rust-async-runtimes-123456"] = true
	h.messenger.Replies = []string{"root"}

	for _, u := range []string{"U1", "U2", "U3"} {
		if _, err := h.store.RecordSignal(context.Background(), models.Signal{Thread: testKey, UserID: u, Kind: models.SignalMessage}); err != nil {
			t.Fatalf("RecordSignal: %v", err)
		}
	}
	rec := h.message(t, "U4")
	if rec == nil || rec.Successful || rec.CreatedChannelID != "" {
		t.Fatalf("rec = %+v, want unsuccessful create_channel", rec)
	}
	recs := h.interventions(t)
	if len(recs) != 1 || recs[0].Successful {
		t.Errorf("stored = %+v", recs)
	}
}

func TestConcurrentSignalsInterveneOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.message(t, "U1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.tracker.RecordMessage(context.Background(), testChannel, testThread, "U2", fmt.Sprintf("1712345679.%06d", i), "hi")
			if err != nil {
				t.Errorf("RecordMessage: %v", err)
			}
		}(i)
	}
	wg.Wait()

	recs := h.interventions(t)
	if len(recs) != 1 || recs[0].InterventionType != models.InterventionDMPair {
		t.Errorf("interventions = %+v, want exactly one dm_pair", recs)
	}
	if msgs := h.messenger.MessagesTo("D-U1"); len(msgs) != 1 {
		t.Errorf("U1 got %d DMs, want 1", len(msgs))
	}
}

func TestTrackRejectsIncompleteSignal(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if _, err := h.tracker.Track(context.Background(), models.Signal{Thread: testKey, Kind: models.SignalMessage}); err == nil {
		t.Error("signal without user should be rejected")
	}
}
