package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/eventstore/internal/domain"
)

// PostgresStore keeps events in a single table keyed by scope, topic and
// sequence. It suits deployments that already operate Postgres and want the
// stream queryable in SQL.
type PostgresStore struct {
	pool     *pgxpool.Pool
	settings settings
}

// NewPostgresStore constructs a store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, settings: applyOptions(opts)}
}

// EnsureSchema creates the events table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS events (
        tenant TEXT NOT NULL DEFAULT '',
        namespace TEXT NOT NULL DEFAULT '',
        topic TEXT NOT NULL,
        sequence BIGINT NOT NULL,
        event_type TEXT NOT NULL,
        event_time TIMESTAMPTZ NOT NULL,
        payload JSONB,
        PRIMARY KEY (tenant, namespace, topic, sequence)
    )`
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%w: ensure events table: %v", domain.ErrEventStorage, err)
	}
	return nil
}

// StoreEvent persists one event.
func (s *PostgresStore) StoreEvent(ctx context.Context, scope domain.Scope, event domain.Event) error {
	body, err := marshalPayload(event.Payload)
	if err != nil {
		recordWriteFailure("postgres")
		return fmt.Errorf("%w: encode %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
	}

	const stmt = `INSERT INTO events (tenant, namespace, topic, sequence, event_type, event_time, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = s.pool.Exec(ctx, stmt,
		scope.Tenant,
		scope.Namespace,
		event.ID.Topic,
		event.ID.Sequence,
		event.Type,
		event.Timestamp.UTC(),
		body,
	)
	if err != nil {
		recordWriteFailure("postgres")
		return fmt.Errorf("%w: insert %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
	}
	recordWrite("postgres")
	return nil
}

// StoreEvents persists a batch in one transaction.
func (s *PostgresStore) StoreEvents(ctx context.Context, scope domain.Scope, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: empty event batch", domain.ErrInvalidArgument)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin batch: %v", domain.ErrEventStorage, err)
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO events (tenant, namespace, topic, sequence, event_type, event_time, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	for _, event := range events {
		body, err := marshalPayload(event.Payload)
		if err != nil {
			recordWriteFailure("postgres")
			return fmt.Errorf("%w: encode %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
		}
		if _, err := tx.Exec(ctx, stmt,
			scope.Tenant,
			scope.Namespace,
			event.ID.Topic,
			event.ID.Sequence,
			event.Type,
			event.Timestamp.UTC(),
			body,
		); err != nil {
			recordWriteFailure("postgres")
			return fmt.Errorf("%w: insert %s: %v", domain.ErrEventStorage, event.ID.Value(), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit batch: %v", domain.ErrEventStorage, err)
	}
	for range events {
		recordWrite("postgres")
	}
	return nil
}

// GetEvent returns one event by id, or nil when absent.
func (s *PostgresStore) GetEvent(ctx context.Context, scope domain.Scope, id domain.EventID) (*domain.Event, error) {
	const query = `SELECT event_type, event_time, payload FROM events
        WHERE tenant=$1 AND namespace=$2 AND topic=$3 AND sequence=$4`

	row := s.pool.QueryRow(ctx, query, scope.Tenant, scope.Namespace, id.Topic, id.Sequence)
	event := domain.Event{ID: domain.NewEventID(scope, id.Topic, id.Sequence)}
	var body []byte
	if err := row.Scan(&event.Type, &event.Timestamp, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrEventStorage, id.Value(), err)
	}
	payload, ok := s.decodePayload(body, id)
	if !ok {
		return nil, nil
	}
	event.Payload = payload
	return &event, nil
}

// GetEvents pushes the whole filter down into SQL; ordering and limit are
// applied by the database.
func (s *PostgresStore) GetEvents(ctx context.Context, scope domain.Scope, topic string, filter domain.EventFilter) ([]domain.Event, error) {
	m, err := newMatcher(topic, filter, s.settings.loc)
	if err != nil {
		return nil, err
	}
	if m.none {
		return []domain.Event{}, nil
	}

	query := `SELECT sequence, event_type, event_time, payload FROM events
        WHERE tenant=$1 AND namespace=$2 AND topic=$3`
	args := []any{scope.Tenant, scope.Namespace, topic}
	if m.floor >= 0 {
		args = append(args, m.floor)
		query += fmt.Sprintf(" AND sequence > $%d", len(args))
	}
	if start, end, ok := m.dateWindow(); ok {
		args = append(args, start, end)
		query += fmt.Sprintf(" AND event_time >= $%d AND event_time < $%d", len(args)-1, len(args))
	}
	query += " ORDER BY sequence ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", domain.ErrEventStorage, scope.Qualify(topic), err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, filter.Limit)
	for rows.Next() {
		var (
			sequence int64
			body     []byte
		)
		event := domain.Event{}
		if err := rows.Scan(&sequence, &event.Type, &event.Timestamp, &body); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", domain.ErrEventStorage, scope.Qualify(topic), err)
		}
		event.ID = domain.NewEventID(scope, topic, sequence)
		payload, ok := s.decodePayload(body, event.ID)
		if !ok {
			continue
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", domain.ErrEventStorage, scope.Qualify(topic), err)
	}
	return events, nil
}

// GetLatestEventID returns the id of the newest stored event, or nil for an
// empty stream.
func (s *PostgresStore) GetLatestEventID(ctx context.Context, scope domain.Scope, topic string) (*domain.EventID, error) {
	const query = `SELECT sequence FROM events
        WHERE tenant=$1 AND namespace=$2 AND topic=$3 ORDER BY sequence DESC LIMIT 1`

	var sequence int64
	if err := s.pool.QueryRow(ctx, query, scope.Tenant, scope.Namespace, topic).Scan(&sequence); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: latest %s: %v", domain.ErrEventStorage, scope.Qualify(topic), err)
	}
	id := domain.NewEventID(scope, topic, sequence)
	return &id, nil
}

func (s *PostgresStore) decodePayload(body []byte, id domain.EventID) (any, bool) {
	if len(body) == 0 {
		return nil, true
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.settings.logger.Warn("skipping malformed event payload", zap.String("event", id.String()), zap.Error(err))
		recordMalformedSkip("postgres")
		return nil, false
	}
	return payload, true
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
