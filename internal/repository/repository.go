package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrDuplicate is returned when an insert hits a uniqueness constraint.
	ErrDuplicate = errors.New("repository: duplicate row")
	// ErrStale is returned when a conditional update matched no row because
	// the row left the expected state concurrently.
	ErrStale = errors.New("repository: row changed concurrently")
	// ErrUnfinishedVotings is returned when a meeting cannot end because one of
	// its votings was not both opened and closed.
	ErrUnfinishedVotings = errors.New("repository: meeting has unfinished votings")
)

// Repository interface defines the methods that any repository implementation must satisfy.
// Lookups return nil, nil when the row does not exist.
type Repository interface {
	// Identity operations
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	GetIdentityByUserID(ctx context.Context, userID string) (*models.Identity, error)
	CreateIdentityForUser(ctx context.Context, userID string, identity *models.Identity) error
	MapUserToIdentity(ctx context.Context, userID, identityID string) error
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	IsPresentInSession(ctx context.Context, identityID string) (bool, error)

	// Location operations
	GetLocation(ctx context.Context, id string) (*models.Location, error)
	FindLocation(ctx context.Context, in models.LocationInput) (*models.Location, error)

	// Meeting operations
	CreateMeeting(ctx context.Context, meeting *models.Meeting, location *models.LocationInput) error
	GetMeeting(ctx context.Context, id string) (*models.Meeting, error)
	GetMeetingView(ctx context.Context, id string) (*models.MeetingView, error)
	ListMeetingViews(ctx context.Context) ([]models.MeetingView, error)
	UpdateMeeting(ctx context.Context, meeting *models.Meeting, location *models.LocationInput, previousLocationID *string) error
	DeleteMeeting(ctx context.Context, id string) error
	BeginMeeting(ctx context.Context, meeting *models.Meeting, record *models.Record) error
	EndMeeting(ctx context.Context, id string, duration int) error
	CountUnfinishedVotings(ctx context.Context, meetingID string) (int, error)

	// Attendance operations
	GetAttendance(ctx context.Context, meetingID, identityID string) (*models.Attendance, error)
	UpsertAttendance(ctx context.Context, attendance *models.Attendance, meetingStatus models.MeetingStatus) error
	CheckIn(ctx context.Context, meetingID, identityID, code string) error
	ListAttendanceViews(ctx context.Context, meetingID string) ([]models.AttendanceView, error)
	CountAttendances(ctx context.Context, meetingID string) (int, error)

	// Record operations
	CreateRecord(ctx context.Context, record *models.Record) error
	GetRecord(ctx context.Context, meetingID, lang string) (*models.Record, error)
	GetRecordView(ctx context.Context, meetingID, lang string) (*models.RecordView, error)
	ListRecordViews(ctx context.Context, meetingID string) ([]models.RecordView, error)
	UpdateRecord(ctx context.Context, record *models.Record, from models.Record) error
	DeleteRecord(ctx context.Context, meetingID, lang string) error

	// Voting operations
	CreateVoting(ctx context.Context, voting *models.Voting, options []models.VotingOption) error
	GetVoting(ctx context.Context, id string) (*models.Voting, error)
	ListVotings(ctx context.Context, meetingID string) ([]models.Voting, error)
	GetVotingOptions(ctx context.Context, votingID string) ([]models.VotingOption, error)
	UpdateVoting(ctx context.Context, voting *models.Voting, options []models.VotingOption) error
	DeleteVoting(ctx context.Context, id string) error
	OpenVoting(ctx context.Context, id string, at time.Time) error
	CloseVoting(ctx context.Context, id string, at time.Time) error

	// Vote operations
	CreateVote(ctx context.Context, vote *models.Vote) error
	GetVote(ctx context.Context, votingID, identityID string) (*models.Vote, error)
	CountVotes(ctx context.Context, votingID string) (int, error)
	ListVoters(ctx context.Context, votingID string) ([]models.VoterView, error)
}

// SQLRepository implements the Repository interface on PostgreSQL or SQLite.
// Queries are written with ? placeholders and rebound for the driver.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{
		db: db,
	}
}

// withTx runs fn inside a transaction, rolling back when fn or the commit fails
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// mapInsertError converts driver uniqueness violations to ErrDuplicate
func mapInsertError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}

	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}

	return err
}

// expectOne turns a conditional write that matched nothing into ErrStale
func expectOne(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
