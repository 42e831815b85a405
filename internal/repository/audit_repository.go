package repository

import (
	"context"
	"database/sql"

	"tradebot/internal/models"
)

// AuditRepository - журнал audit_events (только добавление)
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый экземпляр репозитория
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// InsertAuditEvent добавляет запись и заполняет её ID
func (r *AuditRepository) InsertAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (seq, cycle_id, kind, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		int64(event.Seq),
		event.CycleID,
		string(event.Kind),
		[]byte(event.Payload),
		event.Timestamp,
	).Scan(&event.ID)
}

// GetRecent возвращает последние N записей, новые первыми
func (r *AuditRepository) GetRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, seq, cycle_id, kind, payload, timestamp
		FROM audit_events
		ORDER BY id DESC
		LIMIT $1`

	return r.query(ctx, query, normalizeLimit(limit, 100, 1000))
}

// GetByCycle возвращает записи цикла в порядке записи
func (r *AuditRepository) GetByCycle(ctx context.Context, cycleID int64) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, seq, cycle_id, kind, payload, timestamp
		FROM audit_events
		WHERE cycle_id = $1
		ORDER BY id`

	return r.query(ctx, query, cycleID)
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		var (
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &seq, &e.CycleID, &kind, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = models.AuditKind(kind)
		e.Payload = payload
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
