package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/internal/apperrors"
	"github.com/xaenox/circle-bot/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pqExclusionViolation is raised by events_no_overlap.
const pqExclusionViolation = "23P01"

const pqForeignKeyViolation = "23503"

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns URL when set, otherwise a key/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStorage implements Storage on PostgreSQL. Invariants that involve
// concurrent writers are enforced by constraints and single-statement
// upserts rather than read-then-write sequences.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("Database schema is up to date")

	return newPostgresStorage(db, logger, time.Now), nil
}

func newPostgresStorage(db *sql.DB, logger *zap.Logger, now func() time.Time) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger, now: now}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

const eventColumns = `id, start_time, end_time, is_finalized, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e   models.Event
		end time.Time
	)
	if err := row.Scan(&e.ID, &e.StartTime, &end, &e.IsFinalized, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Duration = end.Sub(e.StartTime)
	return &e, nil
}

func (s *PostgresStorage) queryEvents(ctx context.Context, op, query string, args ...any) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Database(op, err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.Database(op, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database(op, err)
	}
	return events, nil
}

// Event methods

func (s *PostgresStorage) CreateEvent(ctx context.Context, start time.Time, duration time.Duration) (*models.Event, error) {
	if duration <= 0 {
		return nil, apperrors.Invalid("duration", "must be positive")
	}
	query := `
		INSERT INTO events (start_time, end_time)
		VALUES ($1, $2)
		RETURNING ` + eventColumns

	e, err := scanEvent(s.db.QueryRowContext(ctx, query, start, start.Add(duration)))
	if err != nil {
		if pqCode(err) == pqExclusionViolation {
			return nil, apperrors.ErrEventAlreadyActive
		}
		return nil, apperrors.Database("create event", err)
	}
	return e, nil
}

func (s *PostgresStorage) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	e, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Database("get event", err)
	}
	return e, nil
}

func (s *PostgresStorage) GetActiveEvent(ctx context.Context) (*models.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE start_time <= $1 AND end_time > $1
		ORDER BY start_time ASC
		LIMIT 1`

	e, err := scanEvent(s.db.QueryRowContext(ctx, query, s.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNoActiveEvent
	}
	if err != nil {
		return nil, apperrors.Database("get active event", err)
	}
	return e, nil
}

func (s *PostgresStorage) ListEvents(ctx context.Context) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events ORDER BY start_time ASC, id ASC`
	return s.queryEvents(ctx, "list events", query)
}

func (s *PostgresStorage) GetUnfinalizedEndedEvents(ctx context.Context) ([]*models.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE NOT is_finalized AND end_time <= $1
		ORDER BY start_time ASC, id ASC`
	return s.queryEvents(ctx, "get unfinalized ended events", query, s.now())
}

func (s *PostgresStorage) MarkFinalized(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE events SET is_finalized = TRUE WHERE id = $1`, id)
	if err != nil {
		return apperrors.Database("mark finalized", err)
	}
	return expectRow(result, "mark finalized")
}

func (s *PostgresStorage) DeleteEvent(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return apperrors.Database("delete event", err)
	}
	return expectRow(result, "delete event")
}

func (s *PostgresStorage) DeleteAllEvents(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, apperrors.Database("delete all events", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Database("delete all events", err)
	}
	return n, nil
}

func expectRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.Database(op, err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Response methods

// AddResponse resolves the active event and upserts in a single statement,
// so duplicate deliveries for the same user collapse onto one row.
func (s *PostgresStorage) AddResponse(ctx context.Context, userID, text string) (*models.Response, error) {
	query := `
		INSERT INTO responses (user_id, event_id, entry, submitted_at)
		SELECT $1, id, $2, $3
		FROM events
		WHERE start_time <= $3 AND end_time > $3
		ORDER BY start_time ASC
		LIMIT 1
		ON CONFLICT (user_id, event_id) DO UPDATE
		SET entry = EXCLUDED.entry, submitted_at = EXCLUDED.submitted_at
		RETURNING id, event_id, submitted_at`

	r := &models.Response{UserID: userID, Entry: text}
	err := s.db.QueryRowContext(ctx, query, userID, text, s.now()).Scan(&r.ID, &r.EventID, &r.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNoActiveEvent
	}
	if err != nil {
		return nil, apperrors.Database("add response", err)
	}
	return r, nil
}

func (s *PostgresStorage) GetResponsesWithUsers(ctx context.Context, eventID int64) ([]models.UserResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, entry FROM responses WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, apperrors.Database("get responses", err)
	}
	defer rows.Close()

	var result []models.UserResponse
	for rows.Next() {
		var ur models.UserResponse
		if err := rows.Scan(&ur.UserID, &ur.Entry); err != nil {
			return nil, apperrors.Database("get responses", err)
		}
		result = append(result, ur)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("get responses", err)
	}
	return result, nil
}

func (s *PostgresStorage) GetEventUserIDs(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM responses WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, apperrors.Database("get event user ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Database("get event user ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("get event user ids", err)
	}
	return ids, nil
}

// Engagement methods

const threadColumns = `channel_id, thread_ts, last_activity, message_count, bot_intervened, intervention_type, COALESCE(original_message, '')`

func scanThread(row rowScanner) (*models.MonitoredThread, error) {
	var (
		t     models.MonitoredThread
		itype string
	)
	if err := row.Scan(&t.ChannelID, &t.ThreadTS, &t.LastActivity, &t.MessageCount, &t.BotIntervened, &itype, &t.OriginalMessage); err != nil {
		return nil, err
	}
	t.InterventionType = models.InterventionType(itype)
	return &t, nil
}

const participantColumns = `channel_id, thread_ts, user_id, message_count, reaction_count, engagement_score, first_engaged, last_engaged`

func scanParticipant(row rowScanner) (*models.ThreadParticipant, error) {
	var p models.ThreadParticipant
	if err := row.Scan(&p.ChannelID, &p.ThreadTS, &p.UserID, &p.MessageCount, &p.ReactionCount, &p.EngagementScore, &p.FirstEngaged, &p.LastEngaged); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordSignal applies both increments inside one transaction. The counters
// are merged by the database, so concurrent signals never lose an update.
func (s *PostgresStorage) RecordSignal(ctx context.Context, sig models.Signal) (*models.MonitoredThread, error) {
	at := sig.At
	if at.IsZero() {
		at = s.now()
	}

	var messages, reactions int
	switch sig.Kind {
	case models.SignalMessage:
		messages = 1
	case models.SignalReaction:
		reactions = 1
	}
	var original sql.NullString
	if sig.IsThreadRoot() {
		original = sql.NullString{String: sig.Text, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database("record signal", err)
	}
	defer tx.Rollback()

	threadQuery := `
		INSERT INTO monitored_threads (channel_id, thread_ts, last_activity, message_count, original_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id, thread_ts) DO UPDATE
		SET last_activity = EXCLUDED.last_activity,
			message_count = monitored_threads.message_count + EXCLUDED.message_count,
			original_message = COALESCE(monitored_threads.original_message, EXCLUDED.original_message)
		RETURNING ` + threadColumns

	thread, err := scanThread(tx.QueryRowContext(ctx, threadQuery,
		sig.Thread.ChannelID, sig.Thread.ThreadTS, at, messages, original))
	if err != nil {
		return nil, apperrors.Database("record signal", err)
	}

	participantQuery := `
		INSERT INTO thread_participants
			(channel_id, thread_ts, user_id, message_count, reaction_count, engagement_score, first_engaged, last_engaged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (channel_id, thread_ts, user_id) DO UPDATE
		SET message_count = thread_participants.message_count + EXCLUDED.message_count,
			reaction_count = thread_participants.reaction_count + EXCLUDED.reaction_count,
			engagement_score = thread_participants.engagement_score + EXCLUDED.engagement_score,
			last_engaged = EXCLUDED.last_engaged`

	if _, err := tx.ExecContext(ctx, participantQuery,
		sig.Thread.ChannelID, sig.Thread.ThreadTS, sig.UserID, messages, reactions, sig.Kind.Score(), at); err != nil {
		return nil, apperrors.Database("record signal", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database("record signal", err)
	}
	return thread, nil
}

func (s *PostgresStorage) GetThread(ctx context.Context, key models.ThreadKey) (*models.MonitoredThread, error) {
	query := `SELECT ` + threadColumns + ` FROM monitored_threads WHERE channel_id = $1 AND thread_ts = $2`

	t, err := scanThread(s.db.QueryRowContext(ctx, query, key.ChannelID, key.ThreadTS))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Database("get thread", err)
	}
	return t, nil
}

func (s *PostgresStorage) GetParticipant(ctx context.Context, key models.ThreadKey, userID string) (*models.ThreadParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM thread_participants
		WHERE channel_id = $1 AND thread_ts = $2 AND user_id = $3`

	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, key.ChannelID, key.ThreadTS, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Database("get participant", err)
	}
	return p, nil
}

func (s *PostgresStorage) EngagedParticipants(ctx context.Context, key models.ThreadKey, minScore int) ([]*models.ThreadParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM thread_participants
		WHERE channel_id = $1 AND thread_ts = $2 AND engagement_score >= $3
		ORDER BY engagement_score DESC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, key.ChannelID, key.ThreadTS, minScore)
	if err != nil {
		return nil, apperrors.Database("engaged participants", err)
	}
	defer rows.Close()

	var result []*models.ThreadParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, apperrors.Database("engaged participants", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("engaged participants", err)
	}
	return result, nil
}

const interventionRank = `CASE intervention_type
	WHEN 'dm_pair' THEN 1
	WHEN 'ephemeral' THEN 2
	WHEN 'create_channel' THEN 3
	ELSE 0 END`

// ClaimIntervention is a compare-and-set on the thread's level. Exactly one
// concurrent caller sees a row affected for a given target.
func (s *PostgresStorage) ClaimIntervention(ctx context.Context, key models.ThreadKey, target models.InterventionType) (bool, error) {
	query := `
		UPDATE monitored_threads
		SET intervention_type = $3, bot_intervened = TRUE
		WHERE channel_id = $1 AND thread_ts = $2 AND ` + interventionRank + ` < $4`

	result, err := s.db.ExecContext(ctx, query, key.ChannelID, key.ThreadTS, string(target), target.Rank())
	if err != nil {
		return false, apperrors.Database("claim intervention", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Database("claim intervention", err)
	}
	return n == 1, nil
}

func (s *PostgresStorage) RecordIntervention(ctx context.Context, rec *models.InterventionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	var created sql.NullString
	if rec.CreatedChannelID != "" {
		created = sql.NullString{String: rec.CreatedChannelID, Valid: true}
	}

	query := `
		INSERT INTO bot_interventions
			(id, channel_id, thread_ts, intervention_type, target_user_ids, created_channel_id, successful, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ChannelID, rec.ThreadTS, string(rec.InterventionType),
		pq.Array(rec.TargetUserIDs), created, rec.Successful, rec.CreatedAt)
	if err != nil {
		return apperrors.Database("record intervention", err)
	}
	return nil
}

func (s *PostgresStorage) ListInterventions(ctx context.Context, key models.ThreadKey) ([]*models.InterventionRecord, error) {
	query := `
		SELECT id, channel_id, thread_ts, intervention_type, target_user_ids, COALESCE(created_channel_id, ''), successful, created_at
		FROM bot_interventions
		WHERE channel_id = $1 AND thread_ts = $2
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, key.ChannelID, key.ThreadTS)
	if err != nil {
		return nil, apperrors.Database("list interventions", err)
	}
	defer rows.Close()

	var result []*models.InterventionRecord
	for rows.Next() {
		var (
			rec   models.InterventionRecord
			itype string
		)
		if err := rows.Scan(&rec.ID, &rec.ChannelID, &rec.ThreadTS, &itype,
			pq.Array(&rec.TargetUserIDs), &rec.CreatedChannelID, &rec.Successful, &rec.CreatedAt); err != nil {
			return nil, apperrors.Database("list interventions", err)
		}
		rec.InterventionType = models.InterventionType(itype)
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("list interventions", err)
	}
	return result, nil
}

// Prompt methods

const promptColumns = `id, kind, content, created_at`

func scanPrompt(row rowScanner) (*models.Prompt, error) {
	var p models.Prompt
	if err := row.Scan(&p.ID, &p.Kind, &p.Content, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStorage) queryPrompts(ctx context.Context, op, query string, args ...any) ([]*models.Prompt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Database(op, err)
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, apperrors.Database(op, err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database(op, err)
	}
	return prompts, nil
}

func (s *PostgresStorage) CreatePrompt(ctx context.Context, kind models.PromptKind, content string) (*models.Prompt, error) {
	if err := validatePrompt(kind, content); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO prompts (kind, content, created_at)
		VALUES ($1, $2, $3)
		RETURNING ` + promptColumns

	p, err := scanPrompt(s.db.QueryRowContext(ctx, query, string(kind), strings.TrimSpace(content), s.now()))
	if err != nil {
		return nil, apperrors.Database("create prompt", err)
	}
	return p, nil
}

func (s *PostgresStorage) GetPrompt(ctx context.Context, id int64) (*models.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Database("get prompt", err)
	}
	return p, nil
}

func (s *PostgresStorage) ListPrompts(ctx context.Context, kind models.PromptKind) ([]*models.Prompt, error) {
	query := `
		SELECT ` + promptColumns + `
		FROM prompts
		WHERE $1 = '' OR kind = $1
		ORDER BY id DESC`
	return s.queryPrompts(ctx, "list prompts", query, string(kind))
}

func (s *PostgresStorage) DeletePrompt(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = $1`, id)
	if err != nil {
		return apperrors.Database("delete prompt", err)
	}
	return expectRow(result, "delete prompt")
}

func (s *PostgresStorage) PickUnusedPrompt(ctx context.Context) (*models.Prompt, error) {
	query := `
		SELECT p.id, p.kind, p.content, p.created_at
		FROM prompts p
		WHERE p.kind = 'private'
		  AND NOT EXISTS (
			SELECT 1
			FROM event_prompts ep
			JOIN events e ON e.id = ep.event_id
			WHERE ep.prompt_id = p.id AND NOT e.is_finalized
		  )
		ORDER BY random()
		LIMIT 1`

	p, err := scanPrompt(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Database("pick unused prompt", err)
	}
	return p, nil
}

func (s *PostgresStorage) AttachPrompt(ctx context.Context, eventID, promptID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_prompts (event_id, prompt_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, eventID, promptID)
	if pqCode(err) == pqForeignKeyViolation {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return apperrors.Database("attach prompt", err)
	}
	return nil
}

func (s *PostgresStorage) GetEventPrompts(ctx context.Context, eventID int64) ([]*models.Prompt, error) {
	query := `
		SELECT p.id, p.kind, p.content, p.created_at
		FROM prompts p
		JOIN event_prompts ep ON ep.prompt_id = p.id
		WHERE ep.event_id = $1
		ORDER BY p.id`
	return s.queryPrompts(ctx, "get event prompts", query, eventID)
}

// Audience methods

func (s *PostgresStorage) AddMembers(ctx context.Context, userIDs ...string) (int, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audience_members (user_id, added_at)
		SELECT id, $2 FROM unnest($1::text[]) WITH ORDINALITY AS u(id, ord)
		ORDER BY ord
		ON CONFLICT (user_id) DO NOTHING`, pq.Array(ids), s.now())
	if err != nil {
		return 0, apperrors.Database("add members", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Database("add members", err)
	}
	return int(n), nil
}

func (s *PostgresStorage) RemoveMember(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audience_members WHERE user_id = $1`, userID)
	if err != nil {
		return apperrors.Database("remove member", err)
	}
	return expectRow(result, "remove member")
}

func (s *PostgresStorage) ListMembers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM audience_members ORDER BY seq`)
	if err != nil {
		return nil, apperrors.Database("list members", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Database("list members", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Database("list members", err)
	}
	return ids, nil
}
