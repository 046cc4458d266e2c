package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clubhouse/meetings-server/internal/metrics"
	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
	"github.com/patrickmn/go-cache"
)

// Service defines all the business logic operations
type Service interface {
	// Identities
	ResolveIdentity(ctx context.Context, p models.Principal) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.IdentityRef, error)
	ReassignIdentity(ctx context.Context, p models.Principal, req models.ReassignIdentityRequest) error

	// Meeting lifecycle
	ListMeetings(ctx context.Context, p models.Principal) ([]models.MeetingResponse, error)
	GetMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error)
	CreateMeeting(ctx context.Context, p models.Principal, req models.CreateMeetingRequest) (*models.MeetingResponse, error)
	UpdateMeeting(ctx context.Context, p models.Principal, id string, req models.UpdateMeetingRequest) (*models.MeetingResponse, error)
	DeleteMeeting(ctx context.Context, p models.Principal, id string) error
	BeginMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error)
	EndMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error)

	// Attendance
	ListAttendances(ctx context.Context, p models.Principal, meetingID string) ([]models.AttendanceEntry, error)
	CheckIn(ctx context.Context, p models.Principal, meetingID, code string) error
	PlanPresence(ctx context.Context, p models.Principal, meetingID string, status models.AttendanceStatus) error

	// Records
	ListRecords(ctx context.Context, p models.Principal, meetingID string) ([]models.RecordResponse, error)
	GetRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error)
	UpdateRecord(ctx context.Context, p models.Principal, meetingID, lang string, req models.UpdateRecordRequest) (*models.RecordResponse, error)
	SubmitRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error)
	ApproveRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error)
	DeleteRecord(ctx context.Context, p models.Principal, meetingID, lang string) error
	TranslateRecord(ctx context.Context, p models.Principal, meetingID, lang, lang2 string, req models.TranslateRecordRequest) (*models.RecordResponse, error)

	// Votings
	ListVotings(ctx context.Context, p models.Principal, meetingID string) ([]models.VotingResponse, error)
	GetVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResponse, error)
	CreateVoting(ctx context.Context, p models.Principal, req models.CreateVotingRequest) (*models.VotingResponse, error)
	UpdateVoting(ctx context.Context, p models.Principal, id string, req models.UpdateVotingRequest) (*models.VotingResponse, error)
	DeleteVoting(ctx context.Context, p models.Principal, id string) error
	OpenVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResponse, error)
	CloseVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResults, error)
	Vote(ctx context.Context, p models.Principal, id string, index int) error
	GetVotingResults(ctx context.Context, p models.Principal, id string) (*models.VotingResults, error)
	GetMyVote(ctx context.Context, p models.Principal, id string) (*models.MyVoteResponse, error)
	VotingProgress(ctx context.Context, id string) (string, error)
	WatchVoting(ctx context.Context, id string, attach func(progress string)) error
}

// Broadcaster pushes messages to the live connections of a voting
type Broadcaster interface {
	BroadcastText(subject, text string)
	BroadcastBinary(subject string, data []byte)
	CloseAll(subject string)
}

// Options configures a DefaultService
type Options struct {
	DefaultLanguage string
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo        repository.Repository
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics
	identities  *cache.Cache
	defaultLang string
	now         func() time.Time

	// progressLocks serialises count-and-push per voting so pushed ratios never go backwards
	progressLocks sync.Map
}

const (
	identityCacheTTL     = 5 * time.Minute
	identityCacheCleanup = 10 * time.Minute
)

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, broadcaster Broadcaster, opts Options) *DefaultService {
	s := &DefaultService{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		identities:  cache.New(identityCacheTTL, identityCacheCleanup),
		defaultLang: opts.DefaultLanguage,
		now:         opts.Now,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.defaultLang == "" {
		s.defaultLang = "de"
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	return s
}

func requireAdmin(p models.Principal) error {
	if !p.IsAdmin {
		return forbidden("admin privileges required")
	}
	return nil
}
