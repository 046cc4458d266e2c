package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func (r *SQLRepository) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	query := r.db.Rebind(`SELECT id, name, created_at FROM identities WHERE id = ?`)

	var identity models.Identity
	err := r.db.GetContext(ctx, &identity, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Identity not found
		}
		return nil, err
	}

	return &identity, nil
}

func (r *SQLRepository) GetIdentityByUserID(ctx context.Context, userID string) (*models.Identity, error) {
	query := r.db.Rebind(`
		SELECT i.id, i.name, i.created_at FROM identities i
		JOIN user_identities ui ON ui.identity_id = i.id
		WHERE ui.user_id = ?
	`)

	var identity models.Identity
	err := r.db.GetContext(ctx, &identity, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User has no identity yet
		}
		return nil, err
	}

	return &identity, nil
}

// CreateIdentityForUser inserts a new identity and maps the user to it.
// Returns ErrDuplicate when the user was mapped concurrently.
func (r *SQLRepository) CreateIdentityForUser(ctx context.Context, userID string, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.New().String()
	}
	identity.CreatedAt = now()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO identities (id, name, created_at) VALUES (?, ?, ?)`),
			identity.ID, identity.Name, identity.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO user_identities (user_id, identity_id, updated_at) VALUES (?, ?, ?)`),
			userID, identity.ID, identity.CreatedAt)
		return mapInsertError(err)
	})
}

func (r *SQLRepository) MapUserToIdentity(ctx context.Context, userID, identityID string) error {
	query := r.db.Rebind(`
		INSERT INTO user_identities (user_id, identity_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET identity_id = excluded.identity_id, updated_at = excluded.updated_at
	`)

	_, err := r.db.ExecContext(ctx, query, userID, identityID, now())
	return err
}

func (r *SQLRepository) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	query := `SELECT id, name, created_at FROM identities ORDER BY name ASC, id ASC`

	var identities []models.Identity
	if err := r.db.SelectContext(ctx, &identities, query); err != nil {
		return nil, err
	}

	return identities, nil
}

// IsPresentInSession reports whether the identity is checked in to a meeting that is in session
func (r *SQLRepository) IsPresentInSession(ctx context.Context, identityID string) (bool, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM attendances a
		JOIN meetings m ON m.id = a.meeting_id
		WHERE a.identity_id = ? AND a.status = ? AND m.status = ?
	`)

	var n int
	err := r.db.GetContext(ctx, &n, query, identityID, string(models.AttendancePresent), string(models.MeetingInSession))
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
