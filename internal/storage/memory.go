package storage

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/models"
)

type responseKey struct {
	userID  string
	eventID int64
}

type participantEntry struct {
	participant models.ThreadParticipant
	seq         int64
}

// MemoryStorage keeps everything in process memory. Every mutation happens
// under one lock, so check-then-act sequences are atomic.
type MemoryStorage struct {
	mu  sync.RWMutex
	now func() time.Time

	events      map[int64]*models.Event
	nextEventID int64

	responses      map[responseKey]*models.Response
	nextResponseID int64

	threads       map[models.ThreadKey]*models.MonitoredThread
	participants  map[models.ThreadKey]map[string]*participantEntry
	nextSeq       int64
	interventions map[models.ThreadKey][]*models.InterventionRecord

	prompts      map[int64]*models.Prompt
	nextPromptID int64
	eventPrompts map[int64]map[int64]struct{}

	members   []string
	memberSet map[string]struct{}
}

var _ Storage = (*MemoryStorage)(nil)

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithClock overrides the time source used to decide which events are active.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) { s.now = now }
}

func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		now:           time.Now,
		events:        make(map[int64]*models.Event),
		responses:     make(map[responseKey]*models.Response),
		threads:       make(map[models.ThreadKey]*models.MonitoredThread),
		participants:  make(map[models.ThreadKey]map[string]*participantEntry),
		interventions: make(map[models.ThreadKey][]*models.InterventionRecord),
		prompts:       make(map[int64]*models.Prompt),
		eventPrompts:  make(map[int64]map[int64]struct{}),
		memberSet:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Event methods

func (s *MemoryStorage) CreateEvent(ctx context.Context, start time.Time, duration time.Duration) (*models.Event, error) {
	if duration <= 0 {
		return nil, apperrors.Invalid("duration", "must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	end := start.Add(duration)
	for _, e := range s.events {
		if e.Overlaps(start, end) {
			return nil, apperrors.ErrEventAlreadyActive
		}
	}

	s.nextEventID++
	e := &models.Event{
		ID:        s.nextEventID,
		StartTime: start,
		Duration:  duration,
		CreatedAt: s.now(),
	}
	s.events[e.ID] = e
	return copyEvent(e), nil
}

func (s *MemoryStorage) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, exists := s.events[id]; exists {
		return copyEvent(e), nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStorage) GetActiveEvent(ctx context.Context) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.activeEventLocked(); e != nil {
		return copyEvent(e), nil
	}
	return nil, apperrors.ErrNoActiveEvent
}

func (s *MemoryStorage) activeEventLocked() *models.Event {
	now := s.now()
	var active *models.Event
	for _, e := range s.events {
		if !e.IsActiveAt(now) {
			continue
		}
		if active == nil || e.StartTime.Before(active.StartTime) {
			active = e
		}
	}
	return active
}

func (s *MemoryStorage) ListEvents(ctx context.Context) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedEventsLocked(func(*models.Event) bool { return true }), nil
}

func (s *MemoryStorage) GetUnfinalizedEndedEvents(ctx context.Context) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	return s.sortedEventsLocked(func(e *models.Event) bool {
		return !e.IsFinalized && e.HasEndedAt(now)
	}), nil
}

func (s *MemoryStorage) sortedEventsLocked(keep func(*models.Event) bool) []*models.Event {
	result := make([]*models.Event, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			result = append(result, copyEvent(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}

func (s *MemoryStorage) MarkFinalized(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.events[id]
	if !exists {
		return apperrors.ErrNotFound
	}
	e.IsFinalized = true
	return nil
}

func (s *MemoryStorage) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[id]; !exists {
		return apperrors.ErrNotFound
	}
	delete(s.events, id)
	delete(s.eventPrompts, id)
	for k := range s.responses {
		if k.eventID == id {
			delete(s.responses, k)
		}
	}
	return nil
}

func (s *MemoryStorage) DeleteAllEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.events))
	s.events = make(map[int64]*models.Event)
	s.responses = make(map[responseKey]*models.Response)
	s.eventPrompts = make(map[int64]map[int64]struct{})
	return n, nil
}

// Response methods

func (s *MemoryStorage) AddResponse(ctx context.Context, userID, text string) (*models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeEventLocked()
	if active == nil {
		return nil, apperrors.ErrNoActiveEvent
	}

	key := responseKey{userID: userID, eventID: active.ID}
	now := s.now()
	if r, exists := s.responses[key]; exists {
		r.Entry = text
		r.SubmittedAt = now
		cp := *r
		return &cp, nil
	}

	s.nextResponseID++
	r := &models.Response{
		ID:          s.nextResponseID,
		UserID:      userID,
		EventID:     active.ID,
		Entry:       text,
		SubmittedAt: now,
	}
	s.responses[key] = r
	cp := *r
	return &cp, nil
}

func (s *MemoryStorage) eventResponsesLocked(eventID int64) []*models.Response {
	var result []*models.Response
	for k, r := range s.responses {
		if k.eventID == eventID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *MemoryStorage) GetResponsesWithUsers(ctx context.Context, eventID int64) ([]models.UserResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := s.eventResponsesLocked(eventID)
	result := make([]models.UserResponse, 0, len(rs))
	for _, r := range rs {
		result = append(result, models.UserResponse{UserID: r.UserID, Entry: r.Entry})
	}
	return result, nil
}

func (s *MemoryStorage) GetEventUserIDs(ctx context.Context, eventID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs := s.eventResponsesLocked(eventID)
	result := make([]string, 0, len(rs))
	for _, r := range rs {
		result = append(result, r.UserID)
	}
	return result, nil
}

// Engagement methods

func (s *MemoryStorage) RecordSignal(ctx context.Context, sig models.Signal) (*models.MonitoredThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := sig.At
	if at.IsZero() {
		at = s.now()
	}
	key := sig.Thread

	thread, exists := s.threads[key]
	if !exists {
		thread = &models.MonitoredThread{
			ChannelID:        key.ChannelID,
			ThreadTS:         key.ThreadTS,
			InterventionType: models.InterventionNone,
		}
		s.threads[key] = thread
	}
	thread.LastActivity = at
	if sig.Kind == models.SignalMessage {
		thread.MessageCount++
	}
	if sig.IsThreadRoot() && thread.OriginalMessage == "" {
		thread.OriginalMessage = sig.Text
	}

	byUser, exists := s.participants[key]
	if !exists {
		byUser = make(map[string]*participantEntry)
		s.participants[key] = byUser
	}
	entry, exists := byUser[sig.UserID]
	if !exists {
		s.nextSeq++
		entry = &participantEntry{
			participant: models.ThreadParticipant{
				ChannelID:    key.ChannelID,
				ThreadTS:     key.ThreadTS,
				UserID:       sig.UserID,
				FirstEngaged: at,
			},
			seq: s.nextSeq,
		}
		byUser[sig.UserID] = entry
	}
	p := &entry.participant
	switch sig.Kind {
	case models.SignalMessage:
		p.MessageCount++
	case models.SignalReaction:
		p.ReactionCount++
	}
	p.EngagementScore += sig.Kind.Score()
	p.LastEngaged = at

	cp := *thread
	return &cp, nil
}

func (s *MemoryStorage) GetThread(ctx context.Context, key models.ThreadKey) (*models.MonitoredThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, exists := s.threads[key]; exists {
		cp := *t
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStorage) GetParticipant(ctx context.Context, key models.ThreadKey, userID string) (*models.ThreadParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, exists := s.participants[key][userID]; exists {
		cp := entry.participant
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStorage) EngagedParticipants(ctx context.Context, key models.ThreadKey, minScore int) ([]*models.ThreadParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*participantEntry, 0, len(s.participants[key]))
	for _, e := range s.participants[key] {
		if e.participant.EngagementScore >= minScore {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].participant.EngagementScore != entries[j].participant.EngagementScore {
			return entries[i].participant.EngagementScore > entries[j].participant.EngagementScore
		}
		return entries[i].seq < entries[j].seq
	})

	result := make([]*models.ThreadParticipant, len(entries))
	for i, e := range entries {
		cp := e.participant
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryStorage) ClaimIntervention(ctx context.Context, key models.ThreadKey, target models.InterventionType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.threads[key]
	if !exists || t.InterventionType.Rank() >= target.Rank() {
		return false, nil
	}
	t.InterventionType = target
	t.BotIntervened = true
	return true, nil
}

func (s *MemoryStorage) RecordIntervention(ctx context.Context, rec *models.InterventionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	cp := *rec
	cp.TargetUserIDs = append([]string(nil), rec.TargetUserIDs...)
	key := models.ThreadKey{ChannelID: rec.ChannelID, ThreadTS: rec.ThreadTS}
	s.interventions[key] = append(s.interventions[key], &cp)
	return nil
}

func (s *MemoryStorage) ListInterventions(ctx context.Context, key models.ThreadKey) ([]*models.InterventionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.interventions[key]
	result := make([]*models.InterventionRecord, len(recs))
	for i, r := range recs {
		cp := *r
		cp.TargetUserIDs = append([]string(nil), r.TargetUserIDs...)
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyEvent(e *models.Event) *models.Event {
	cp := *e
	return &cp
}

// Prompt methods

func validatePrompt(kind models.PromptKind, content string) error {
	if !kind.Valid() {
		return apperrors.Invalid("kind", "must be private or aggregated")
	}
	if strings.TrimSpace(content) == "" {
		return apperrors.Invalid("content", "must not be empty")
	}
	return nil
}

func (s *MemoryStorage) CreatePrompt(ctx context.Context, kind models.PromptKind, content string) (*models.Prompt, error) {
	if err := validatePrompt(kind, content); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPromptID++
	p := &models.Prompt{
		ID:        s.nextPromptID,
		Kind:      kind,
		Content:   strings.TrimSpace(content),
		CreatedAt: s.now(),
	}
	s.prompts[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *MemoryStorage) GetPrompt(ctx context.Context, id int64) (*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.prompts[id]; exists {
		cp := *p
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStorage) ListPrompts(ctx context.Context, kind models.PromptKind) ([]*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedPromptsLocked(func(p *models.Prompt) bool {
		return kind == "" || p.Kind == kind
	}), nil
}

// sortedPromptsLocked returns copies of the matching prompts, newest first.
func (s *MemoryStorage) sortedPromptsLocked(keep func(*models.Prompt) bool) []*models.Prompt {
	result := make([]*models.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		if keep(p) {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result
}

func (s *MemoryStorage) DeletePrompt(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.prompts[id]; !exists {
		return apperrors.ErrNotFound
	}
	delete(s.prompts, id)
	for _, linked := range s.eventPrompts {
		delete(linked, id)
	}
	return nil
}

func (s *MemoryStorage) PickUnusedPrompt(ctx context.Context) (*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inUse := make(map[int64]bool)
	for eventID, linked := range s.eventPrompts {
		if e, exists := s.events[eventID]; exists && !e.IsFinalized {
			for id := range linked {
				inUse[id] = true
			}
		}
	}
	candidates := s.sortedPromptsLocked(func(p *models.Prompt) bool {
		return p.Kind == models.PromptPrivate && !inUse[p.ID]
	})
	if len(candidates) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return candidates[rand.IntN(len(candidates))], nil
}

func (s *MemoryStorage) AttachPrompt(ctx context.Context, eventID, promptID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; !exists {
		return apperrors.ErrNotFound
	}
	if _, exists := s.prompts[promptID]; !exists {
		return apperrors.ErrNotFound
	}
	linked, exists := s.eventPrompts[eventID]
	if !exists {
		linked = make(map[int64]struct{})
		s.eventPrompts[eventID] = linked
	}
	linked[promptID] = struct{}{}
	return nil
}

func (s *MemoryStorage) GetEventPrompts(ctx context.Context, eventID int64) ([]*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	linked := s.eventPrompts[eventID]
	result := s.sortedPromptsLocked(func(p *models.Prompt) bool {
		_, ok := linked[p.ID]
		return ok
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Audience methods

func (s *MemoryStorage) AddMembers(ctx context.Context, userIDs ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, exists := s.memberSet[id]; exists {
			continue
		}
		s.memberSet[id] = struct{}{}
		s.members = append(s.members, id)
		added++
	}
	return added, nil
}

func (s *MemoryStorage) RemoveMember(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.memberSet[userID]; !exists {
		return apperrors.ErrNotFound
	}
	delete(s.memberSet, userID)
	for i, id := range s.members {
		if id == userID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStorage) ListMembers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.members...), nil
}
