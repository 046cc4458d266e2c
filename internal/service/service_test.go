package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clubhouse/meetings-server/internal/metrics"
	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/clubhouse/meetings-server/internal/testutils"
	"github.com/clubhouse/meetings-server/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = models.Principal{UserID: "admin-user", Name: "Anna Admin", IsAdmin: true}
	alice = models.Principal{UserID: "alice-user", Name: "Alice"}
	bob   = models.Principal{UserID: "bob-user", Name: "Bob"}
	carol = models.Principal{UserID: "carol-user", Name: "Carol"}
)

type fixture struct {
	ctx   context.Context
	repo  *repository.SQLRepository
	svc   *service.DefaultService
	bc    *testutils.Broadcaster
	clock *testutils.Clock
}

var testClockStart = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithMetrics(t, nil)
}

func newFixtureWithMetrics(t *testing.T, m *metrics.Metrics) *fixture {
	t.Helper()
	return buildFixture(t, m, nil)
}

// newInterleavedFixture runs the service on a repository that calls the hook
// registered for a method once, right before the method itself
func newInterleavedFixture(t *testing.T) (*fixture, *hookRepo) {
	t.Helper()
	var hooked *hookRepo
	f := buildFixture(t, nil, func(repo repository.Repository) repository.Repository {
		hooked = &hookRepo{Repository: repo, before: map[string]func(){}}
		return hooked
	})
	return f, hooked
}

func buildFixture(t *testing.T, m *metrics.Metrics, wrap func(repository.Repository) repository.Repository) *fixture {
	t.Helper()

	repo := testutils.NewRepository(t)
	bc := testutils.NewBroadcaster()
	clock := testutils.NewClock(testClockStart)

	var svcRepo repository.Repository = repo
	if wrap != nil {
		svcRepo = wrap(repo)
	}

	svc := service.NewDefaultService(svcRepo, bc, service.Options{
		DefaultLanguage: "de",
		Logger:          utils.DiscardLogger(),
		Metrics:         m,
		Now:             clock.Now,
	})

	return &fixture{
		ctx:   context.Background(),
		repo:  repo,
		svc:   svc,
		bc:    bc,
		clock: clock,
	}
}

// hookRepo lets a test slip a concurrent request in between the service's
// checks and its write
type hookRepo struct {
	repository.Repository

	mu     sync.Mutex
	before map[string]func()
}

func (h *hookRepo) On(method string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before[method] = fn
}

func (h *hookRepo) fire(method string) {
	h.mu.Lock()
	fn := h.before[method]
	delete(h.before, method)
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (h *hookRepo) CheckIn(ctx context.Context, meetingID, identityID, code string) error {
	h.fire("CheckIn")
	return h.Repository.CheckIn(ctx, meetingID, identityID, code)
}

func (h *hookRepo) UpsertAttendance(ctx context.Context, attendance *models.Attendance, meetingStatus models.MeetingStatus) error {
	h.fire("UpsertAttendance")
	return h.Repository.UpsertAttendance(ctx, attendance, meetingStatus)
}

func (h *hookRepo) CreateVoting(ctx context.Context, voting *models.Voting, options []models.VotingOption) error {
	h.fire("CreateVoting")
	return h.Repository.CreateVoting(ctx, voting, options)
}

func (h *hookRepo) EndMeeting(ctx context.Context, id string, duration int) error {
	h.fire("EndMeeting")
	return h.Repository.EndMeeting(ctx, id, duration)
}

func (h *hookRepo) UpdateRecord(ctx context.Context, record *models.Record, from models.Record) error {
	h.fire("UpdateRecord")
	return h.Repository.UpdateRecord(ctx, record, from)
}

func assertKind(t *testing.T, err error, kind service.Kind, msgAndArgs ...interface{}) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	if !assert.Equal(t, kind, service.KindOf(err), msgAndArgs...) {
		t.Logf("unexpected error: %v", err)
	}
}

func (f *fixture) identity(t *testing.T, p models.Principal) *models.Identity {
	t.Helper()
	identity, err := f.svc.ResolveIdentity(f.ctx, p)
	require.NoError(t, err)
	return identity
}

func (f *fixture) createMeeting(t *testing.T) *models.MeetingResponse {
	t.Helper()
	meeting, err := f.svc.CreateMeeting(f.ctx, admin, models.CreateMeetingRequest{
		Name:  "General Assembly",
		Start: f.clock.Now().Add(24 * time.Hour),
		Location: &models.LocationInput{
			Name:       "Club House",
			Street:     "Main Street",
			Number:     "1",
			PostalCode: "8000",
			Place:      "Zurich",
		},
	})
	require.NoError(t, err)
	return meeting
}

// beginMeeting starts the meeting and returns its access code
func (f *fixture) beginMeeting(t *testing.T, meetingID string) string {
	t.Helper()
	meeting, err := f.svc.BeginMeeting(f.ctx, admin, meetingID)
	require.NoError(t, err)
	require.NotNil(t, meeting.Code)
	return *meeting.Code
}

func (f *fixture) checkIn(t *testing.T, p models.Principal, meetingID, code string) {
	t.Helper()
	require.NoError(t, f.svc.CheckIn(f.ctx, p, meetingID, code))
}

func (f *fixture) createVoting(t *testing.T, meetingID string, anonymous bool, options ...string) *models.VotingResponse {
	t.Helper()
	voting, err := f.svc.CreateVoting(f.ctx, admin, models.CreateVotingRequest{
		MeetingID: meetingID,
		Question:  "Approve the budget?",
		Anonymous: anonymous,
		Options:   options,
	})
	require.NoError(t, err)
	return voting
}

func (f *fixture) openVoting(t *testing.T, votingID string) {
	t.Helper()
	_, err := f.svc.OpenVoting(f.ctx, admin, votingID)
	require.NoError(t, err)
}

func TestResolveIdentity(t *testing.T) {
	f := newFixture(t)

	t.Run("creates once per user", func(t *testing.T) {
		first := f.identity(t, alice)
		second := f.identity(t, alice)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Alice", first.Name)

		stored, err := f.repo.GetIdentityByUserID(f.ctx, alice.UserID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, first.ID, stored.ID)
	})

	t.Run("distinct users get distinct identities", func(t *testing.T) {
		assert.NotEqual(t, f.identity(t, alice).ID, f.identity(t, bob).ID)
	})

	t.Run("falls back to the user id as name", func(t *testing.T) {
		identity := f.identity(t, models.Principal{UserID: "nameless"})
		assert.Equal(t, "nameless", identity.Name)
	})

	t.Run("missing user is unauthorized", func(t *testing.T) {
		_, err := f.svc.ResolveIdentity(f.ctx, models.Principal{})
		assertKind(t, err, service.KindUnauthorized)
	})
}

func TestListIdentities(t *testing.T) {
	f := newFixture(t)
	f.identity(t, bob)
	f.identity(t, alice)

	identities, err := f.svc.ListIdentities(f.ctx)
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "Alice", identities[0].Name)
	assert.Equal(t, "Bob", identities[1].Name)
}

func TestReassignIdentity(t *testing.T) {
	f := newFixture(t)
	aliceIdentity := f.identity(t, alice)
	f.identity(t, bob)

	t.Run("requires admin", func(t *testing.T) {
		err := f.svc.ReassignIdentity(f.ctx, bob, models.ReassignIdentityRequest{
			UserID: bob.UserID, IdentityID: aliceIdentity.ID,
		})
		assertKind(t, err, service.KindForbidden)
	})

	t.Run("unknown identity", func(t *testing.T) {
		err := f.svc.ReassignIdentity(f.ctx, admin, models.ReassignIdentityRequest{
			UserID: bob.UserID, IdentityID: "does-not-exist",
		})
		assertKind(t, err, service.KindNotFound)
	})

	t.Run("already mapped", func(t *testing.T) {
		err := f.svc.ReassignIdentity(f.ctx, admin, models.ReassignIdentityRequest{
			UserID: alice.UserID, IdentityID: aliceIdentity.ID,
		})
		assertKind(t, err, service.KindConflict)
	})

	t.Run("moves the account and refreshes the cache", func(t *testing.T) {
		err := f.svc.ReassignIdentity(f.ctx, admin, models.ReassignIdentityRequest{
			UserID: bob.UserID, IdentityID: aliceIdentity.ID,
		})
		require.NoError(t, err)

		assert.Equal(t, aliceIdentity.ID, f.identity(t, bob).ID)
	})
}

func TestReassignIdentity_LockedWhilePresent(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	code := f.beginMeeting(t, meeting.ID)
	f.checkIn(t, carol, meeting.ID, code)
	aliceIdentity := f.identity(t, alice)

	err := f.svc.ReassignIdentity(f.ctx, admin, models.ReassignIdentityRequest{
		UserID: carol.UserID, IdentityID: aliceIdentity.ID,
	})
	assertKind(t, err, service.KindLocked)

	_, err = f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)

	err = f.svc.ReassignIdentity(f.ctx, admin, models.ReassignIdentityRequest{
		UserID: carol.UserID, IdentityID: aliceIdentity.ID,
	})
	assert.NoError(t, err)
}
