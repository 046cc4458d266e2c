package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const meetingColumns = `id, name, description, status, starts_at, duration, location_id, chair_id, code, created_at`

const meetingViewQuery = `
	SELECT m.id, m.name, m.description, m.status, m.starts_at, m.duration, m.code,
		m.location_id, l.name AS location_name, l.street, l.number, l.letter,
		p.postal_code, p.place, m.chair_id, i.name AS chair_name
	FROM meetings m
	LEFT JOIN locations l ON l.id = m.location_id
	LEFT JOIN places p ON p.id = l.place_id
	LEFT JOIN identities i ON i.id = m.chair_id
`

// Location repository methods
func (r *SQLRepository) GetLocation(ctx context.Context, id string) (*models.Location, error) {
	query := r.db.Rebind(`SELECT id, name, street, number, letter, place_id FROM locations WHERE id = ?`)

	var location models.Location
	err := r.db.GetContext(ctx, &location, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Location not found
		}
		return nil, err
	}

	return &location, nil
}

// FindLocation looks up a location with exactly the given fields
func (r *SQLRepository) FindLocation(ctx context.Context, in models.LocationInput) (*models.Location, error) {
	var placeID *string
	if in.PostalCode != "" || in.Place != "" {
		var id string
		err := r.db.GetContext(ctx, &id,
			r.db.Rebind(`SELECT id FROM places WHERE postal_code = ? AND place = ?`),
			in.PostalCode, in.Place)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil // No such place, so no such location
			}
			return nil, err
		}
		placeID = &id
	}

	return findLocation(ctx, r.db, in, placeID)
}

// findLocation matches every location field including the place binding
func findLocation(ctx context.Context, q sqlx.ExtContext, in models.LocationInput, placeID *string) (*models.Location, error) {
	query := `SELECT id, name, street, number, letter, place_id FROM locations
		WHERE name = ? AND street = ? AND number = ? AND letter = ?`
	args := []interface{}{in.Name, in.Street, in.Number, in.Letter}

	if placeID == nil {
		query += ` AND place_id IS NULL`
	} else {
		query += ` AND place_id = ?`
		args = append(args, *placeID)
	}
	query += ` LIMIT 1`

	var location models.Location
	err := sqlx.GetContext(ctx, q, &location, q.Rebind(query), args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &location, nil
}

// findOrCreateLocationTx reuses an identical location (and place) or inserts a new one
func (r *SQLRepository) findOrCreateLocationTx(ctx context.Context, tx *sqlx.Tx, in models.LocationInput) (string, error) {
	var placeID *string
	if in.PostalCode != "" || in.Place != "" {
		var id string
		err := tx.GetContext(ctx, &id,
			tx.Rebind(`SELECT id FROM places WHERE postal_code = ? AND place = ?`),
			in.PostalCode, in.Place)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.New().String()
			_, err = tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO places (id, postal_code, place) VALUES (?, ?, ?)`),
				id, in.PostalCode, in.Place)
			if err != nil {
				return "", err
			}
		case err != nil:
			return "", err
		}
		placeID = &id
	}

	existing, err := findLocation(ctx, tx, in, placeID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO locations (id, name, street, number, letter, place_id) VALUES (?, ?, ?, ?, ?, ?)`),
		id, in.Name, in.Street, in.Number, in.Letter, placeID)
	if err != nil {
		return "", err
	}

	return id, nil
}

// deleteLocationIfOrphanedTx removes a location, and then its place, once nothing references them
func deleteLocationIfOrphanedTx(ctx context.Context, tx *sqlx.Tx, locationID string) error {
	var placeID *string
	err := tx.GetContext(ctx, &placeID, tx.Rebind(`SELECT place_id FROM locations WHERE id = ?`), locationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM locations WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM meetings WHERE location_id = ?)
	`), locationID, locationID)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 || placeID == nil {
		return nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM places WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM locations WHERE place_id = ?)
	`), *placeID, *placeID)
	return err
}

// Meeting repository methods
func (r *SQLRepository) CreateMeeting(ctx context.Context, meeting *models.Meeting, location *models.LocationInput) error {
	if meeting.ID == "" {
		meeting.ID = uuid.New().String()
	}
	meeting.CreatedAt = now()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if location != nil {
			locationID, err := r.findOrCreateLocationTx(ctx, tx, *location)
			if err != nil {
				return err
			}
			meeting.LocationID = &locationID
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO meetings (`+meetingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			meeting.ID, meeting.Name, meeting.Description, string(meeting.Status), meeting.Start.UTC(),
			meeting.Duration, meeting.LocationID, meeting.ChairID, meeting.Code, meeting.CreatedAt)
		return err
	})
}

func (r *SQLRepository) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	query := r.db.Rebind(`SELECT ` + meetingColumns + ` FROM meetings WHERE id = ?`)

	var meeting models.Meeting
	err := r.db.GetContext(ctx, &meeting, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Meeting not found
		}
		return nil, err
	}

	return &meeting, nil
}

func (r *SQLRepository) GetMeetingView(ctx context.Context, id string) (*models.MeetingView, error) {
	query := r.db.Rebind(meetingViewQuery + ` WHERE m.id = ?`)

	var view models.MeetingView
	err := r.db.GetContext(ctx, &view, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Meeting not found
		}
		return nil, err
	}

	return &view, nil
}

func (r *SQLRepository) ListMeetingViews(ctx context.Context) ([]models.MeetingView, error) {
	query := meetingViewQuery + ` ORDER BY m.starts_at DESC, m.id ASC`

	var views []models.MeetingView
	if err := r.db.SelectContext(ctx, &views, query); err != nil {
		return nil, err
	}

	return views, nil
}

// UpdateMeeting writes the editable fields of a scheduled meeting. When location is
// set it replaces LocationID; previousLocationID is removed if nothing uses it afterwards.
func (r *SQLRepository) UpdateMeeting(
	ctx context.Context,
	meeting *models.Meeting,
	location *models.LocationInput,
	previousLocationID *string,
) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if location != nil {
			locationID, err := r.findOrCreateLocationTx(ctx, tx, *location)
			if err != nil {
				return err
			}
			meeting.LocationID = &locationID
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE meetings SET name = ?, description = ?, starts_at = ?, duration = ?, location_id = ?
			WHERE id = ? AND status = ?
		`),
			meeting.Name, meeting.Description, meeting.Start.UTC(), meeting.Duration, meeting.LocationID,
			meeting.ID, string(models.MeetingScheduled))
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if previousLocationID != nil && (meeting.LocationID == nil || *meeting.LocationID != *previousLocationID) {
			return deleteLocationIfOrphanedTx(ctx, tx, *previousLocationID)
		}
		return nil
	})
}

// DeleteMeeting removes a scheduled meeting together with its attendances,
// records, votings, options and votes.
func (r *SQLRepository) DeleteMeeting(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		var locationID *string
		err := tx.GetContext(ctx, &locationID, tx.Rebind(`SELECT location_id FROM meetings WHERE id = ?`), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStale
			}
			return err
		}

		// Children first due to foreign key constraints
		children := []string{
			`DELETE FROM votes WHERE voting_id IN (SELECT id FROM votings WHERE meeting_id = ?)`,
			`DELETE FROM voting_options WHERE voting_id IN (SELECT id FROM votings WHERE meeting_id = ?)`,
			`DELETE FROM votings WHERE meeting_id = ?`,
			`DELETE FROM attendances WHERE meeting_id = ?`,
			`DELETE FROM records WHERE meeting_id = ?`,
		}
		for _, stmt := range children {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM meetings WHERE id = ? AND status = ?`),
			id, string(models.MeetingScheduled))
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if locationID != nil {
			return deleteLocationIfOrphanedTx(ctx, tx, *locationID)
		}
		return nil
	})
}

// BeginMeeting moves a scheduled meeting into session and creates its default record
func (r *SQLRepository) BeginMeeting(ctx context.Context, meeting *models.Meeting, record *models.Record) error {
	record.UpdatedAt = now()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE meetings SET status = ?, starts_at = ?, chair_id = ?, code = ?
			WHERE id = ? AND status = ?
		`),
			string(models.MeetingInSession), meeting.Start.UTC(), meeting.ChairID, meeting.Code,
			meeting.ID, string(models.MeetingScheduled))
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO records (meeting_id, lang, content, identity_id, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`),
			record.MeetingID, record.Lang, record.Content, record.IdentityID, string(record.Status), record.UpdatedAt)
		return mapInsertError(err)
	})
}

// EndMeeting completes an in-session meeting. Attendances not marked present are
// dropped and everyone who was present is left with a single absent row.
// Returns ErrUnfinishedVotings if a voting of the meeting is not closed.
func (r *SQLRepository) EndMeeting(ctx context.Context, id string, duration int) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE meetings SET status = ?, duration = ?, code = NULL
			WHERE id = ? AND status = ?
		`), string(models.MeetingCompleted), duration, id, string(models.MeetingInSession))
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		// Counted after the meeting row is locked so a voting created concurrently is seen
		var unfinished int
		err = tx.GetContext(ctx, &unfinished, tx.Rebind(`
			SELECT COUNT(*) FROM votings
			WHERE meeting_id = ? AND (started_at IS NULL OR closed_at IS NULL)
		`), id)
		if err != nil {
			return err
		}
		if unfinished > 0 {
			return ErrUnfinishedVotings
		}

		var present []string
		err = tx.SelectContext(ctx, &present,
			tx.Rebind(`SELECT identity_id FROM attendances WHERE meeting_id = ? AND status = ?`),
			id, string(models.AttendancePresent))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM attendances WHERE meeting_id = ?`), id); err != nil {
			return err
		}

		insert := tx.Rebind(`INSERT INTO attendances (meeting_id, identity_id, status) VALUES (?, ?, ?)`)
		for _, identityID := range present {
			if _, err := tx.ExecContext(ctx, insert, id, identityID, string(models.AttendanceAbsent)); err != nil {
				return err
			}
		}

		return nil
	})
}

// lockMeetingTx touches the meeting row when it matches condition, which holds the
// row lock until tx ends. Writes that depend on the meeting state take it first
// so they serialize with status changes. Returns ErrStale if no row matched.
func lockMeetingTx(ctx context.Context, tx *sqlx.Tx, meetingID, condition string, args ...interface{}) error {
	query := tx.Rebind(`UPDATE meetings SET status = status WHERE id = ? AND ` + condition)

	res, err := tx.ExecContext(ctx, query, append([]interface{}{meetingID}, args...)...)
	if err != nil {
		return err
	}

	return expectOne(res)
}

// CountUnfinishedVotings counts votings of the meeting that were not both started and closed
func (r *SQLRepository) CountUnfinishedVotings(ctx context.Context, meetingID string) (int, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM votings
		WHERE meeting_id = ? AND (started_at IS NULL OR closed_at IS NULL)
	`)

	var n int
	if err := r.db.GetContext(ctx, &n, query, meetingID); err != nil {
		return 0, err
	}

	return n, nil
}
