package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/jmoiron/sqlx"
)

func (r *SQLRepository) GetAttendance(ctx context.Context, meetingID, identityID string) (*models.Attendance, error) {
	query := r.db.Rebind(`
		SELECT meeting_id, identity_id, status FROM attendances
		WHERE meeting_id = ? AND identity_id = ?
	`)

	var attendance models.Attendance
	err := r.db.GetContext(ctx, &attendance, query, meetingID, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No status recorded
		}
		return nil, err
	}

	return &attendance, nil
}

// UpsertAttendance creates the attendance row or overwrites its status while the
// meeting is still in meetingStatus. Returns ErrStale if the meeting has moved on.
func (r *SQLRepository) UpsertAttendance(ctx context.Context, attendance *models.Attendance, meetingStatus models.MeetingStatus) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockMeetingTx(ctx, tx, attendance.MeetingID, `status = ?`, string(meetingStatus)); err != nil {
			return err
		}
		return upsertAttendanceTx(ctx, tx, attendance)
	})
}

// CheckIn marks the identity present while the meeting is in session and code is
// its current access code. Returns ErrStale otherwise.
func (r *SQLRepository) CheckIn(ctx context.Context, meetingID, identityID, code string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		err := lockMeetingTx(ctx, tx, meetingID, `status = ? AND code = ?`, string(models.MeetingInSession), code)
		if err != nil {
			return err
		}
		return upsertAttendanceTx(ctx, tx, &models.Attendance{
			MeetingID:  meetingID,
			IdentityID: identityID,
			Status:     models.AttendancePresent,
		})
	})
}

func upsertAttendanceTx(ctx context.Context, tx *sqlx.Tx, attendance *models.Attendance) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO attendances (meeting_id, identity_id, status) VALUES (?, ?, ?)
		ON CONFLICT (meeting_id, identity_id) DO UPDATE SET status = excluded.status
	`), attendance.MeetingID, attendance.IdentityID, string(attendance.Status))
	return err
}

func (r *SQLRepository) ListAttendanceViews(ctx context.Context, meetingID string) ([]models.AttendanceView, error) {
	query := r.db.Rebind(`
		SELECT a.identity_id, i.name, a.status FROM attendances a
		JOIN identities i ON i.id = a.identity_id
		WHERE a.meeting_id = ?
		ORDER BY i.name ASC, a.identity_id ASC
	`)

	var views []models.AttendanceView
	if err := r.db.SelectContext(ctx, &views, query, meetingID); err != nil {
		return nil, err
	}

	return views, nil
}

// CountAttendances counts every attendance row of the meeting regardless of status
func (r *SQLRepository) CountAttendances(ctx context.Context, meetingID string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM attendances WHERE meeting_id = ?`)

	var n int
	if err := r.db.GetContext(ctx, &n, query, meetingID); err != nil {
		return 0, err
	}

	return n, nil
}
