package service_test

import (
	"testing"
	"time"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMeeting(t *testing.T) {
	f := newFixture(t)

	t.Run("requires admin", func(t *testing.T) {
		_, err := f.svc.CreateMeeting(f.ctx, alice, models.CreateMeetingRequest{
			Name:     "Board",
			Start:    f.clock.Now(),
			Location: &models.LocationInput{Name: "Office"},
		})
		assertKind(t, err, service.KindForbidden)
	})

	t.Run("requires a location", func(t *testing.T) {
		_, err := f.svc.CreateMeeting(f.ctx, admin, models.CreateMeetingRequest{
			Name:  "Board",
			Start: f.clock.Now(),
		})
		assertKind(t, err, service.KindBadRequest)
	})

	t.Run("unknown location id", func(t *testing.T) {
		unknown := "no-such-location"
		_, err := f.svc.CreateMeeting(f.ctx, admin, models.CreateMeetingRequest{
			Name:       "Board",
			Start:      f.clock.Now(),
			LocationID: &unknown,
		})
		assertKind(t, err, service.KindNotFound)
	})

	t.Run("starts scheduled with the inline location", func(t *testing.T) {
		meeting := f.createMeeting(t)

		assert.Equal(t, models.MeetingScheduled, meeting.Status)
		assert.Nil(t, meeting.Chair)
		assert.Nil(t, meeting.Code)
		require.NotNil(t, meeting.Location)
		assert.Equal(t, "Club House", meeting.Location.Name)
		assert.Equal(t, "8000", meeting.Location.PostalCode)
		assert.Equal(t, "Zurich", meeting.Location.Place)
	})

	t.Run("reuses identical locations", func(t *testing.T) {
		first := f.createMeeting(t)
		second := f.createMeeting(t)

		require.NotNil(t, first.Location)
		require.NotNil(t, second.Location)
		assert.Equal(t, first.Location.ID, second.Location.ID)

		byID, err := f.svc.CreateMeeting(f.ctx, admin, models.CreateMeetingRequest{
			Name:       "Board",
			Start:      f.clock.Now(),
			LocationID: &first.Location.ID,
		})
		require.NoError(t, err)
		require.NotNil(t, byID.Location)
		assert.Equal(t, first.Location.ID, byID.Location.ID)
	})
}

func TestListAndGetMeeting(t *testing.T) {
	f := newFixture(t)
	older := f.createMeeting(t)

	later := f.clock.Now().Add(72 * time.Hour)
	newer, err := f.svc.CreateMeeting(f.ctx, admin, models.CreateMeetingRequest{
		Name:     "Summer Party",
		Start:    later,
		Location: &models.LocationInput{Name: "Lake"},
	})
	require.NoError(t, err)

	meetings, err := f.svc.ListMeetings(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, meetings, 2)
	assert.Equal(t, newer.ID, meetings[0].ID)
	assert.Equal(t, older.ID, meetings[1].ID)

	_, err = f.svc.GetMeeting(f.ctx, alice, "missing")
	assertKind(t, err, service.KindNotFound)
}

func TestGetMeeting_CodeOnlyForAdmins(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	code := f.beginMeeting(t, meeting.ID)

	asAdmin, err := f.svc.GetMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)
	require.NotNil(t, asAdmin.Code)
	assert.Equal(t, code, *asAdmin.Code)
	assert.Len(t, code, 6)

	asMember, err := f.svc.GetMeeting(f.ctx, alice, meeting.ID)
	require.NoError(t, err)
	assert.Nil(t, asMember.Code)

	listed, err := f.svc.ListMeetings(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].Code)
}

func TestBeginMeeting(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	chair := f.identity(t, admin)

	_, err := f.svc.BeginMeeting(f.ctx, alice, meeting.ID)
	assertKind(t, err, service.KindForbidden)

	_, err = f.svc.BeginMeeting(f.ctx, admin, "missing")
	assertKind(t, err, service.KindNotFound)

	begun, err := f.svc.BeginMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)

	assert.Equal(t, models.MeetingInSession, begun.Status)
	assert.True(t, begun.Start.Equal(f.clock.Now()), "start should be reset to now")
	require.NotNil(t, begun.Chair)
	assert.Equal(t, chair.ID, begun.Chair.ID)
	assert.Equal(t, "Anna Admin", begun.Chair.Name)

	record, err := f.svc.GetRecord(f.ctx, admin, meeting.ID, "de")
	require.NoError(t, err)
	assert.Equal(t, models.RecordUnderway, record.Status)
	assert.Equal(t, chair.ID, record.Identity.ID)
}

func TestMeetingStatusIsMonotonic(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)

	_, err := f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	f.beginMeeting(t, meeting.ID)

	_, err = f.svc.BeginMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	ended, err := f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingCompleted, ended.Status)

	_, err = f.svc.BeginMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	_, err = f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	stored, err := f.repo.GetMeeting(f.ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingCompleted, stored.Status)
}

func TestEndMeeting_DurationAndCode(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	f.beginMeeting(t, meeting.ID)

	f.clock.Advance(61*time.Minute + 30*time.Second)

	ended, err := f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)

	require.NotNil(t, ended.Duration)
	assert.Equal(t, 62, *ended.Duration)
	assert.Nil(t, ended.Code, "the access code is cleared once the meeting is over")
}

func TestEndMeeting_RequiresFinishedVotings(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	f.beginMeeting(t, meeting.ID)
	voting := f.createVoting(t, meeting.ID, false, "Yes", "No")

	_, err := f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	f.openVoting(t, voting.ID)
	_, err = f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	_, err = f.svc.CloseVoting(f.ctx, admin, voting.ID)
	require.NoError(t, err)

	_, err = f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	assert.NoError(t, err)
}

func TestEndMeeting_PrunesAttendances(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)

	require.NoError(t, f.svc.PlanPresence(f.ctx, alice, meeting.ID, models.AttendanceAccepted))
	require.NoError(t, f.svc.PlanPresence(f.ctx, bob, meeting.ID, models.AttendanceAbsent))
	require.NoError(t, f.svc.PlanPresence(f.ctx, carol, meeting.ID, models.AttendanceAccepted))

	code := f.beginMeeting(t, meeting.ID)
	f.checkIn(t, alice, meeting.ID, code)

	_, err := f.svc.EndMeeting(f.ctx, admin, meeting.ID)
	require.NoError(t, err)

	views, err := f.repo.ListAttendanceViews(f.ctx, meeting.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, f.identity(t, alice).ID, views[0].IdentityID)
	assert.Equal(t, models.AttendanceAbsent, views[0].Status)
}

func TestUpdateMeeting(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)

	t.Run("no changes", func(t *testing.T) {
		name := meeting.Name
		_, err := f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{Name: &name})
		assertKind(t, err, service.KindConflict)

		_, err = f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{})
		assertKind(t, err, service.KindConflict)
	})

	t.Run("requires admin", func(t *testing.T) {
		name := "Renamed"
		_, err := f.svc.UpdateMeeting(f.ctx, alice, meeting.ID, models.UpdateMeetingRequest{Name: &name})
		assertKind(t, err, service.KindForbidden)
	})

	t.Run("changes fields", func(t *testing.T) {
		name := "Extraordinary Assembly"
		duration := 90
		updated, err := f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{
			Name:     &name,
			Duration: &duration,
		})
		require.NoError(t, err)
		assert.Equal(t, name, updated.Name)
		require.NotNil(t, updated.Duration)
		assert.Equal(t, 90, *updated.Duration)
	})

	t.Run("same inline location is no change", func(t *testing.T) {
		_, err := f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{
			Location: &models.LocationInput{
				Name:       "Club House",
				Street:     "Main Street",
				Number:     "1",
				PostalCode: "8000",
				Place:      "Zurich",
			},
		})
		assertKind(t, err, service.KindConflict)
	})

	t.Run("removes the orphaned location", func(t *testing.T) {
		previous := meeting.Location.ID

		updated, err := f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{
			Location: &models.LocationInput{Name: "Town Hall"},
		})
		require.NoError(t, err)
		require.NotNil(t, updated.Location)
		assert.NotEqual(t, previous, updated.Location.ID)

		location, err := f.repo.GetLocation(f.ctx, previous)
		require.NoError(t, err)
		assert.Nil(t, location)
	})

	t.Run("only while scheduled", func(t *testing.T) {
		f.beginMeeting(t, meeting.ID)

		name := "Too Late"
		_, err := f.svc.UpdateMeeting(f.ctx, admin, meeting.ID, models.UpdateMeetingRequest{Name: &name})
		assertKind(t, err, service.KindBadRequest)
	})
}

func TestDeleteMeeting_Cascades(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	voting := f.createVoting(t, meeting.ID, false, "Yes", "No")
	require.NoError(t, f.svc.PlanPresence(f.ctx, alice, meeting.ID, models.AttendanceAccepted))
	require.NoError(t, f.svc.PlanPresence(f.ctx, bob, meeting.ID, models.AttendanceAbsent))

	err := f.svc.DeleteMeeting(f.ctx, alice, meeting.ID)
	assertKind(t, err, service.KindForbidden)

	require.NoError(t, f.svc.DeleteMeeting(f.ctx, admin, meeting.ID))

	_, err = f.svc.GetMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindNotFound)

	stored, err := f.repo.GetVoting(f.ctx, voting.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	attendances, err := f.repo.CountAttendances(f.ctx, meeting.ID)
	require.NoError(t, err)
	assert.Zero(t, attendances)

	options, err := f.repo.GetVotingOptions(f.ctx, voting.ID)
	require.NoError(t, err)
	assert.Empty(t, options)

	location, err := f.repo.GetLocation(f.ctx, meeting.Location.ID)
	require.NoError(t, err)
	assert.Nil(t, location, "the location is dropped with its last meeting")
}

func TestDeleteMeeting_OnlyWhileScheduled(t *testing.T) {
	f := newFixture(t)
	meeting := f.createMeeting(t)
	f.beginMeeting(t, meeting.ID)

	err := f.svc.DeleteMeeting(f.ctx, admin, meeting.ID)
	assertKind(t, err, service.KindBadRequest)

	err = f.svc.DeleteMeeting(f.ctx, admin, "missing")
	assertKind(t, err, service.KindNotFound)
}
