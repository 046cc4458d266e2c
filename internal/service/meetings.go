package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
)

// ListMeetings returns all meetings, newest first
func (s *DefaultService) ListMeetings(ctx context.Context, p models.Principal) ([]models.MeetingResponse, error) {
	views, err := s.repo.ListMeetingViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing meetings: %w", err)
	}

	meetings := make([]models.MeetingResponse, 0, len(views))
	for i := range views {
		meetings = append(meetings, toMeetingResponse(&views[i], p.IsAdmin, nil))
	}

	return meetings, nil
}

func (s *DefaultService) GetMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error) {
	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return nil, err
	}

	return s.meetingResponse(ctx, p, id, identity.ID)
}

// meetingResponse loads the meeting read-model together with the caller's attendance
func (s *DefaultService) meetingResponse(ctx context.Context, p models.Principal, id, identityID string) (*models.MeetingResponse, error) {
	view, err := s.repo.GetMeetingView(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if view == nil {
		return nil, notFound("meeting not found")
	}

	var myStatus *models.AttendanceStatus
	if identityID != "" {
		attendance, err := s.repo.GetAttendance(ctx, id, identityID)
		if err != nil {
			return nil, fmt.Errorf("error getting attendance: %w", err)
		}
		if attendance != nil {
			myStatus = &attendance.Status
		}
	}

	resp := toMeetingResponse(view, p.IsAdmin, myStatus)
	return &resp, nil
}

func toMeetingResponse(view *models.MeetingView, isAdmin bool, myStatus *models.AttendanceStatus) models.MeetingResponse {
	resp := models.MeetingResponse{
		ID:                 view.ID,
		Name:               view.Name,
		Description:        view.Description,
		Status:             view.Status,
		Start:              view.Start,
		Duration:           view.Duration,
		MyAttendanceStatus: myStatus,
	}

	if view.LocationID != nil {
		resp.Location = &models.LocationResponse{
			ID:         *view.LocationID,
			Name:       deref(view.LocName),
			Street:     deref(view.Street),
			Number:     deref(view.Number),
			Letter:     deref(view.Letter),
			PostalCode: deref(view.PostalCode),
			Place:      deref(view.Place),
		}
	}

	if view.ChairID != nil {
		resp.Chair = &models.IdentityRef{ID: *view.ChairID, Name: deref(view.ChairName)}
	}

	// The access code is only ever shown to admins
	if isAdmin {
		resp.Code = view.Code
	}

	return resp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *DefaultService) CreateMeeting(
	ctx context.Context,
	p models.Principal,
	req models.CreateMeetingRequest,
) (*models.MeetingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, badRequest("name is required")
	}

	meeting := &models.Meeting{
		Name:        req.Name,
		Description: req.Description,
		Status:      models.MeetingScheduled,
		Start:       req.Start.UTC(),
		Duration:    req.Duration,
	}

	var location *models.LocationInput
	switch {
	case req.LocationID != nil:
		existing, err := s.repo.GetLocation(ctx, *req.LocationID)
		if err != nil {
			return nil, fmt.Errorf("error getting location: %w", err)
		}
		if existing == nil {
			return nil, notFound("location not found")
		}
		meeting.LocationID = &existing.ID
	case req.Location != nil:
		if strings.TrimSpace(req.Location.Name) == "" {
			return nil, badRequest("location name is required")
		}
		location = req.Location
	default:
		return nil, badRequest("either locationId or location is required")
	}

	if err := s.repo.CreateMeeting(ctx, meeting, location); err != nil {
		return nil, fmt.Errorf("error creating meeting: %w", err)
	}

	s.logger.Info("meeting created", "meeting_id", meeting.ID, "name", meeting.Name)

	return s.meetingResponse(ctx, p, meeting.ID, "")
}

// UpdateMeeting changes the fields of a scheduled meeting. Fails with Conflict
// when the request would not change anything.
func (s *DefaultService) UpdateMeeting(
	ctx context.Context,
	p models.Principal,
	id string,
	req models.UpdateMeetingRequest,
) (*models.MeetingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	meeting, err := s.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}
	if meeting.Status != models.MeetingScheduled {
		return nil, badRequest("only scheduled meetings can be updated")
	}

	changed := false

	if req.Name != nil && *req.Name != meeting.Name {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, badRequest("name must not be empty")
		}
		meeting.Name = *req.Name
		changed = true
	}

	if req.Description != nil && *req.Description != meeting.Description {
		meeting.Description = *req.Description
		changed = true
	}

	if req.Start != nil && !req.Start.Equal(meeting.Start) {
		meeting.Start = req.Start.UTC()
		changed = true
	}

	if req.Duration != nil && (meeting.Duration == nil || *meeting.Duration != *req.Duration) {
		duration := *req.Duration
		meeting.Duration = &duration
		changed = true
	}

	previousLocationID := meeting.LocationID
	var location *models.LocationInput

	switch {
	case req.LocationID != nil:
		if previousLocationID == nil || *previousLocationID != *req.LocationID {
			existing, err := s.repo.GetLocation(ctx, *req.LocationID)
			if err != nil {
				return nil, fmt.Errorf("error getting location: %w", err)
			}
			if existing == nil {
				return nil, notFound("location not found")
			}
			meeting.LocationID = &existing.ID
			changed = true
		}
	case req.Location != nil:
		if strings.TrimSpace(req.Location.Name) == "" {
			return nil, badRequest("location name is required")
		}
		existing, err := s.repo.FindLocation(ctx, *req.Location)
		if err != nil {
			return nil, fmt.Errorf("error finding location: %w", err)
		}
		if existing == nil || previousLocationID == nil || existing.ID != *previousLocationID {
			location = req.Location
			changed = true
		}
	}

	if !changed {
		return nil, conflict("no changes detected")
	}

	err = s.repo.UpdateMeeting(ctx, meeting, location, previousLocationID)
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("only scheduled meetings can be updated")
	}
	if err != nil {
		return nil, fmt.Errorf("error updating meeting: %w", err)
	}

	s.logger.Info("meeting updated", "meeting_id", id)

	return s.meetingResponse(ctx, p, id, "")
}

// DeleteMeeting removes a scheduled meeting and everything hanging off it
func (s *DefaultService) DeleteMeeting(ctx context.Context, p models.Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}

	meeting, err := s.repo.GetMeeting(ctx, id)
	if err != nil {
		return fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return notFound("meeting not found")
	}
	if meeting.Status != models.MeetingScheduled {
		return badRequest("only scheduled meetings can be deleted")
	}

	err = s.repo.DeleteMeeting(ctx, id)
	if errors.Is(err, repository.ErrStale) {
		return badRequest("only scheduled meetings can be deleted")
	}
	if err != nil {
		return fmt.Errorf("error deleting meeting: %w", err)
	}

	s.logger.Info("meeting deleted", "meeting_id", id)
	return nil
}

// BeginMeeting starts the session: the caller becomes chair, a fresh access code
// is issued and the default-language record is opened for the caller.
func (s *DefaultService) BeginMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	meeting, err := s.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}
	if meeting.Status != models.MeetingScheduled {
		return nil, badRequest("meeting has already begun")
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return nil, err
	}

	code, err := generateAccessCode()
	if err != nil {
		return nil, fmt.Errorf("error generating access code: %w", err)
	}

	meeting.Status = models.MeetingInSession
	meeting.Start = s.now()
	meeting.ChairID = &identity.ID
	meeting.Code = &code

	record := &models.Record{
		MeetingID:  id,
		Lang:       s.defaultLang,
		IdentityID: identity.ID,
		Status:     models.RecordUnderway,
	}

	err = s.repo.BeginMeeting(ctx, meeting, record)
	switch {
	case errors.Is(err, repository.ErrStale):
		return nil, badRequest("meeting has already begun")
	case errors.Is(err, repository.ErrDuplicate):
		return nil, conflict("record for language %q already exists", s.defaultLang)
	case err != nil:
		return nil, fmt.Errorf("error beginning meeting: %w", err)
	}

	s.metrics.Transition("meeting_begin")
	s.logger.Info("meeting begun", "meeting_id", id, "chair_id", identity.ID)

	return s.meetingResponse(ctx, p, id, identity.ID)
}

// EndMeeting completes the session once every voting is closed. The duration is
// the elapsed time in minutes, rounded up.
func (s *DefaultService) EndMeeting(ctx context.Context, p models.Principal, id string) (*models.MeetingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	meeting, err := s.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}
	if meeting.Status != models.MeetingInSession {
		return nil, badRequest("meeting is not in session")
	}

	unfinished, err := s.repo.CountUnfinishedVotings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error counting votings: %w", err)
	}
	if unfinished > 0 {
		return nil, badRequest("%d voting(s) are not closed yet", unfinished)
	}

	elapsed := s.now().Sub(meeting.Start)
	duration := int(math.Ceil(elapsed.Minutes()))
	if duration < 0 {
		duration = 0
	}

	err = s.repo.EndMeeting(ctx, id, duration)
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("meeting is not in session")
	}
	if errors.Is(err, repository.ErrUnfinishedVotings) {
		return nil, badRequest("votings are not closed yet")
	}
	if err != nil {
		return nil, fmt.Errorf("error ending meeting: %w", err)
	}

	s.metrics.Transition("meeting_end")
	s.logger.Info("meeting ended", "meeting_id", id, "duration_minutes", duration)

	return s.meetingResponse(ctx, p, id, "")
}

// generateAccessCode returns a random 6-digit numeric code
func generateAccessCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
