package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clubhouse/meetings-server/internal/models"
)

const recordViewQuery = `
	SELECT r.meeting_id, r.lang, r.content, r.identity_id, r.status, r.updated_at, i.name AS identity_name
	FROM records r
	JOIN identities i ON i.id = r.identity_id
`

// CreateRecord inserts a record. Returns ErrDuplicate when the language already exists.
func (r *SQLRepository) CreateRecord(ctx context.Context, record *models.Record) error {
	record.UpdatedAt = now()

	query := r.db.Rebind(`
		INSERT INTO records (meeting_id, lang, content, identity_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		record.MeetingID, record.Lang, record.Content, record.IdentityID, string(record.Status), record.UpdatedAt)
	return mapInsertError(err)
}

func (r *SQLRepository) GetRecord(ctx context.Context, meetingID, lang string) (*models.Record, error) {
	query := r.db.Rebind(`
		SELECT meeting_id, lang, content, identity_id, status, updated_at FROM records
		WHERE meeting_id = ? AND lang = ?
	`)

	var record models.Record
	err := r.db.GetContext(ctx, &record, query, meetingID, lang)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Record not found
		}
		return nil, err
	}

	return &record, nil
}

func (r *SQLRepository) GetRecordView(ctx context.Context, meetingID, lang string) (*models.RecordView, error) {
	query := r.db.Rebind(recordViewQuery + ` WHERE r.meeting_id = ? AND r.lang = ?`)

	var view models.RecordView
	err := r.db.GetContext(ctx, &view, query, meetingID, lang)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Record not found
		}
		return nil, err
	}

	return &view, nil
}

func (r *SQLRepository) ListRecordViews(ctx context.Context, meetingID string) ([]models.RecordView, error) {
	query := r.db.Rebind(recordViewQuery + ` WHERE r.meeting_id = ? ORDER BY r.lang ASC`)

	var views []models.RecordView
	if err := r.db.SelectContext(ctx, &views, query, meetingID); err != nil {
		return nil, err
	}

	return views, nil
}

// UpdateRecord writes record only if the stored row still matches from, the
// version it was read as. Returns ErrStale after a concurrent change.
func (r *SQLRepository) UpdateRecord(ctx context.Context, record *models.Record, from models.Record) error {
	record.UpdatedAt = now()

	query := r.db.Rebind(`
		UPDATE records SET content = ?, identity_id = ?, status = ?, updated_at = ?
		WHERE meeting_id = ? AND lang = ? AND status = ? AND identity_id = ? AND content = ?
	`)

	res, err := r.db.ExecContext(ctx, query,
		record.Content, record.IdentityID, string(record.Status), record.UpdatedAt, record.MeetingID, record.Lang,
		string(from.Status), from.IdentityID, from.Content)
	if err != nil {
		return err
	}

	return expectOne(res)
}

func (r *SQLRepository) DeleteRecord(ctx context.Context, meetingID, lang string) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`DELETE FROM records WHERE meeting_id = ? AND lang = ?`), meetingID, lang)
	if err != nil {
		return err
	}

	return expectOne(res)
}
