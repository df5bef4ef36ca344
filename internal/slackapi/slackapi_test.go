package slackapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/circle-bot/internal/apperrors"
)

type apiCall struct {
	method string
	token  string
	form   map[string]string
}

// fakeSlackAPI answers Web API methods with canned JSON bodies.
type fakeSlackAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	replies map[string]string
}

func newFakeSlackAPI(t *testing.T, replies map[string]string) (*fakeSlackAPI, *httptest.Server) {
	t.Helper()
	api := &fakeSlackAPI{replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		method := strings.TrimPrefix(r.URL.Path, "/")
		form := make(map[string]string)
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		for k := range r.URL.Query() {
			form[k] = r.URL.Query().Get(k)
		}

		// slack-go v0.15 sends the token as a form field; later releases use a bearer header.
		token := form["token"]
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		api.mu.Lock()
		api.calls = append(api.calls, apiCall{method: method, token: token, form: form})
		api.mu.Unlock()

		body, ok := replies[method]
		if !ok {
			body = `{"ok":false,"error":"unknown_method"}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeSlackAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newTestMessenger(t *testing.T, srv *httptest.Server, tokens TokenSource) *SlackMessenger {
	t.Helper()
	return NewSlackMessenger(Config{APIURL: srv.URL + "/", RequestTimeout: 5 * time.Second}, tokens, srv.Client(), zaptest.NewLogger(t))
}

func TestMessengerDirectMessage(t *testing.T) {
	api, srv := newFakeSlackAPI(t, map[string]string{
		"conversations.open": `{"ok":true,"channel":{"id":"D123"}}`,
		"chat.postMessage":   `{"ok":true,"channel":"D123","ts":"1712345678.000100"}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))
	ctx := context.Background()

	dm, err := m.OpenDirectChannel(ctx, "U1")
	if err != nil {
		t.Fatalf("OpenDirectChannel: %v", err)
	}
	if dm != "D123" {
		t.Errorf("OpenDirectChannel = %q, want D123", dm)
	}

	ts, err := m.SendMessage(ctx, dm, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if ts != "1712345678.000100" {
		t.Errorf("SendMessage ts = %q", ts)
	}

	calls := api.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].form["users"] != "U1" {
		t.Errorf("conversations.open users = %q", calls[0].form["users"])
	}
	if calls[1].form["channel"] != "D123" || calls[1].form["text"] != "hello" {
		t.Errorf("chat.postMessage form = %v", calls[1].form)
	}
	for _, c := range calls {
		if c.token != "xoxb-test" {
			t.Errorf("%s token = %q, want xoxb-test", c.method, c.token)
		}
	}
}

func TestMessengerWorkspaceMembers(t *testing.T) {
	api, srv := newFakeSlackAPI(t, map[string]string{
		"users.list": `{"ok":true,"members":[
			{"id":"U1"},
			{"id":"U2","deleted":true},
			{"id":"B1","is_bot":true},
			{"id":"USLACKBOT"},
			{"id":"U3"}
		],"response_metadata":{"next_cursor":""}}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))

	ids, err := m.WorkspaceMembers(context.Background())
	if err != nil {
		t.Fatalf("WorkspaceMembers: %v", err)
	}
	if strings.Join(ids, ",") != "U1,U3" {
		t.Errorf("WorkspaceMembers = %v, want [U1 U3]", ids)
	}
	if calls := api.Calls(); len(calls) != 1 || calls[0].method != "users.list" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestMessengerEphemeralInThread(t *testing.T) {
	api, srv := newFakeSlackAPI(t, map[string]string{
		"chat.postEphemeral": `{"ok":true,"message_ts":"1.2"}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))

	if err := m.PostEphemeral(context.Background(), "C1", "U1", "100.000001", "nudge"); err != nil {
		t.Fatalf("PostEphemeral: %v", err)
	}
	form := api.Calls()[0].form
	if form["user"] != "U1" || form["thread_ts"] != "100.000001" {
		t.Errorf("chat.postEphemeral form = %v", form)
	}
}

func TestMessengerCreateChannelError(t *testing.T) {
	_, srv := newFakeSlackAPI(t, map[string]string{
		"conversations.create": `{"ok":false,"error":"name_taken"}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))

	_, err := m.CreateChannel(context.Background(), "hiking-event1")
	if !apperrors.IsExternal(err) {
		t.Fatalf("CreateChannel error = %v, want external service error", err)
	}
	if !strings.Contains(err.Error(), "name_taken") {
		t.Errorf("error %q should carry the Slack error code", err)
	}
}

func TestMessengerCreateAndInvite(t *testing.T) {
	api, srv := newFakeSlackAPI(t, map[string]string{
		"conversations.create": `{"ok":true,"channel":{"id":"C900","name":"hiking-event1"}}`,
		"conversations.invite": `{"ok":true,"channel":{"id":"C900"}}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))
	ctx := context.Background()

	id, err := m.CreateChannel(ctx, "hiking-event1")
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if id != "C900" {
		t.Errorf("CreateChannel = %q", id)
	}
	if err := m.Invite(ctx, id, []string{"U1", "U2"}); err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if err := m.Invite(ctx, id, nil); err != nil {
		t.Fatalf("Invite(nil): %v", err)
	}

	calls := api.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2 (empty invite is skipped)", len(calls))
	}
	if calls[0].form["name"] != "hiking-event1" || calls[0].form["is_private"] != "false" {
		t.Errorf("conversations.create form = %v", calls[0].form)
	}
	if calls[1].form["users"] != "U1,U2" {
		t.Errorf("conversations.invite users = %q", calls[1].form["users"])
	}
}

func TestMessengerThreadMessages(t *testing.T) {
	_, srv := newFakeSlackAPI(t, map[string]string{
		"conversations.replies": `{"ok":true,"has_more":false,"messages":[
			{"type":"message","text":"root","ts":"1.0"},
			{"type":"message","text":"one","ts":"1.1"},
			{"type":"message","text":"two","ts":"1.2"}]}`,
	})
	m := newTestMessenger(t, srv, StaticToken("xoxb-test"))

	texts, err := m.ThreadMessages(context.Background(), "C1", "1.0", 2)
	if err != nil {
		t.Fatalf("ThreadMessages: %v", err)
	}
	if len(texts) != 2 || texts[0] != "root" || texts[1] != "one" {
		t.Errorf("ThreadMessages = %v", texts)
	}
}

func TestMessengerMissingToken(t *testing.T) {
	api, srv := newFakeSlackAPI(t, nil)
	m := newTestMessenger(t, srv, StaticToken(""))

	if _, err := m.SendMessage(context.Background(), "C1", "hi"); !apperrors.IsValidation(err) {
		t.Errorf("SendMessage error = %v, want validation error", err)
	}
	if len(api.Calls()) != 0 {
		t.Error("no API call should be made without a token")
	}
}

func TestRefreshingToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var refreshes []string
	tok := NewRefreshingToken(RefreshConfig{
		AccessToken:  "xoxe-old",
		RefreshToken: "r1",
		ExpiresAt:    now.Add(30 * time.Minute),
	}, nil, zaptest.NewLogger(t))
	tok.now = func() time.Time { return now }
	tok.refresh = func(ctx context.Context, refreshToken string) (*slack.OAuthV2Response, error) {
		refreshes = append(refreshes, refreshToken)
		return &slack.OAuthV2Response{AccessToken: "xoxe-new", RefreshToken: "r2", ExpiresIn: 43200}, nil
	}
	ctx := context.Background()

	got, err := tok.Token(ctx)
	if err != nil || got != "xoxe-old" {
		t.Fatalf("Token = %q, %v; want cached token", got, err)
	}

	// Inside the refresh margin.
	now = now.Add(29*time.Minute + 30*time.Second)
	got, err = tok.Token(ctx)
	if err != nil || got != "xoxe-new" {
		t.Fatalf("Token = %q, %v; want refreshed token", got, err)
	}
	if len(refreshes) != 1 || refreshes[0] != "r1" {
		t.Errorf("refreshes = %v", refreshes)
	}

	now = now.Add(11 * time.Hour)
	if got, _ := tok.Token(ctx); got != "xoxe-new" {
		t.Errorf("Token = %q, want xoxe-new until near expiry", got)
	}

	now = now.Add(time.Hour)
	if _, err := tok.Token(ctx); err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(refreshes) != 2 || refreshes[1] != "r2" {
		t.Errorf("second refresh should use rotated refresh token, got %v", refreshes)
	}
}

func TestRefreshingTokenRetries(t *testing.T) {
	attempts := 0
	tok := NewRefreshingToken(RefreshConfig{RefreshToken: "r1", Attempts: 3}, nil, zaptest.NewLogger(t))
	tok.backoff = time.Millisecond
	tok.refresh = func(ctx context.Context, refreshToken string) (*slack.OAuthV2Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("temporary failure")
		}
		return &slack.OAuthV2Response{AccessToken: "xoxe-ok", ExpiresIn: 3600}, nil
	}

	got, err := tok.Token(context.Background())
	if err != nil || got != "xoxe-ok" {
		t.Fatalf("Token = %q, %v", got, err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	failing := NewRefreshingToken(RefreshConfig{RefreshToken: "r1", Attempts: 2}, nil, zaptest.NewLogger(t))
	failing.backoff = time.Millisecond
	failing.refresh = func(ctx context.Context, refreshToken string) (*slack.OAuthV2Response, error) {
		return nil, errors.New("invalid_refresh_token")
	}
	if _, err := failing.Token(context.Background()); !apperrors.IsExternal(err) {
		t.Errorf("Token error = %v, want external service error", err)
	}
}
