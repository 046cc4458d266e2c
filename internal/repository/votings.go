package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const votingColumns = `id, meeting_id, question, description, is_open, anonymous, started_at, closed_at, created_at`

// pendingCondition matches votings that were never opened
const pendingCondition = `is_open = ? AND started_at IS NULL AND closed_at IS NULL`

// Voting repository methods

// CreateVoting inserts the voting and its options while the meeting is not
// completed. Returns ErrStale otherwise.
func (r *SQLRepository) CreateVoting(ctx context.Context, voting *models.Voting, options []models.VotingOption) error {
	if voting.ID == "" {
		voting.ID = uuid.New().String()
	}
	voting.CreatedAt = now()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		err := lockMeetingTx(ctx, tx, voting.MeetingID, `status <> ?`, string(models.MeetingCompleted))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO votings (`+votingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			voting.ID, voting.MeetingID, voting.Question, voting.Description, voting.IsOpen, voting.Anonymous,
			voting.StartedAt, voting.ClosedAt, voting.CreatedAt)
		if err != nil {
			return err
		}

		return insertOptionsTx(ctx, tx, voting.ID, options)
	})
}

func insertOptionsTx(ctx context.Context, tx *sqlx.Tx, votingID string, options []models.VotingOption) error {
	insert := tx.Rebind(`INSERT INTO voting_options (voting_id, idx, text) VALUES (?, ?, ?)`)
	for i := range options {
		options[i].VotingID = votingID
		if _, err := tx.ExecContext(ctx, insert, votingID, options[i].Index, options[i].Text); err != nil {
			return mapInsertError(err)
		}
	}
	return nil
}

func (r *SQLRepository) GetVoting(ctx context.Context, id string) (*models.Voting, error) {
	query := r.db.Rebind(`SELECT ` + votingColumns + ` FROM votings WHERE id = ?`)

	var voting models.Voting
	err := r.db.GetContext(ctx, &voting, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Voting not found
		}
		return nil, err
	}

	return &voting, nil
}

func (r *SQLRepository) ListVotings(ctx context.Context, meetingID string) ([]models.Voting, error) {
	query := r.db.Rebind(`SELECT ` + votingColumns + ` FROM votings WHERE meeting_id = ? ORDER BY created_at ASC, id ASC`)

	var votings []models.Voting
	if err := r.db.SelectContext(ctx, &votings, query, meetingID); err != nil {
		return nil, err
	}

	return votings, nil
}

func (r *SQLRepository) GetVotingOptions(ctx context.Context, votingID string) ([]models.VotingOption, error) {
	query := r.db.Rebind(`SELECT voting_id, idx, text FROM voting_options WHERE voting_id = ? ORDER BY idx ASC`)

	var options []models.VotingOption
	if err := r.db.SelectContext(ctx, &options, query, votingID); err != nil {
		return nil, err
	}

	return options, nil
}

// UpdateVoting rewrites the structural fields of a pending voting. A nil options
// slice keeps the current options; otherwise they are replaced.
func (r *SQLRepository) UpdateVoting(ctx context.Context, voting *models.Voting, options []models.VotingOption) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE votings SET question = ?, description = ?, anonymous = ?
			WHERE id = ? AND `+pendingCondition),
			voting.Question, voting.Description, voting.Anonymous, voting.ID, false)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if options == nil {
			return nil
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM voting_options WHERE voting_id = ?`), voting.ID); err != nil {
			return err
		}

		return insertOptionsTx(ctx, tx, voting.ID, options)
	})
}

// DeleteVoting removes a pending voting with its options
func (r *SQLRepository) DeleteVoting(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM voting_options WHERE voting_id = ?`), id); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM votings WHERE id = ? AND `+pendingCondition), id, false)
		if err != nil {
			return err
		}

		return expectOne(res)
	})
}

// OpenVoting moves a pending voting to open. Returns ErrStale if it is not pending anymore.
func (r *SQLRepository) OpenVoting(ctx context.Context, id string, at time.Time) error {
	query := r.db.Rebind(`UPDATE votings SET is_open = ?, started_at = ? WHERE id = ? AND ` + pendingCondition)

	res, err := r.db.ExecContext(ctx, query, true, at.UTC(), id, false)
	if err != nil {
		return err
	}

	return expectOne(res)
}

// CloseVoting moves an open voting to closed. Returns ErrStale if it is not open.
func (r *SQLRepository) CloseVoting(ctx context.Context, id string, at time.Time) error {
	query := r.db.Rebind(`UPDATE votings SET is_open = ?, closed_at = ? WHERE id = ? AND is_open = ?`)

	res, err := r.db.ExecContext(ctx, query, false, at.UTC(), id, true)
	if err != nil {
		return err
	}

	return expectOne(res)
}

// Vote repository methods

// CreateVote inserts a vote while the voting is open. The voting row is locked
// first so a concurrent CloseVoting waits for the vote to commit; ErrStale means
// the voting was no longer open. The (voting_id, identity_id) key makes
// concurrent attempts of one identity resolve to a single row; the loser gets
// ErrDuplicate.
func (r *SQLRepository) CreateVote(ctx context.Context, vote *models.Vote) error {
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = now()
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE votings SET is_open = is_open WHERE id = ? AND is_open = ?`),
			vote.VotingID, true)
		if err != nil {
			return err
		}
		if err := expectOne(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO votes (voting_id, identity_id, idx, created_at) VALUES (?, ?, ?, ?)`),
			vote.VotingID, vote.IdentityID, vote.Index, vote.CreatedAt)
		return mapInsertError(err)
	})
}

func (r *SQLRepository) GetVote(ctx context.Context, votingID, identityID string) (*models.Vote, error) {
	query := r.db.Rebind(`
		SELECT voting_id, identity_id, idx, created_at FROM votes
		WHERE voting_id = ? AND identity_id = ?
	`)

	var vote models.Vote
	err := r.db.GetContext(ctx, &vote, query, votingID, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not voted
		}
		return nil, err
	}

	return &vote, nil
}

func (r *SQLRepository) CountVotes(ctx context.Context, votingID string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM votes WHERE voting_id = ?`)

	var n int
	if err := r.db.GetContext(ctx, &n, query, votingID); err != nil {
		return 0, err
	}

	return n, nil
}

func (r *SQLRepository) ListVoters(ctx context.Context, votingID string) ([]models.VoterView, error) {
	query := r.db.Rebind(`
		SELECT v.idx, v.identity_id, i.name FROM votes v
		JOIN identities i ON i.id = v.identity_id
		WHERE v.voting_id = ?
		ORDER BY v.idx ASC, i.name ASC
	`)

	var voters []models.VoterView
	if err := r.db.SelectContext(ctx, &voters, query, votingID); err != nil {
		return nil, err
	}

	return voters, nil
}
