package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
)

// ListAttendances returns the attendance list with the caller first. While the
// meeting is scheduled every identity without a status is listed as a placeholder.
func (s *DefaultService) ListAttendances(ctx context.Context, p models.Principal, meetingID string) ([]models.AttendanceEntry, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return nil, err
	}

	views, err := s.repo.ListAttendanceViews(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error listing attendances: %w", err)
	}

	// Views arrive sorted by name, so a stable sort keeps names ordered per status
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Status.Rank() < views[j].Status.Rank()
	})

	entries := make([]models.AttendanceEntry, 0, len(views))
	seen := make(map[string]bool, len(views))
	for _, v := range views {
		status := v.Status
		entries = append(entries, models.AttendanceEntry{
			Identity: models.IdentityRef{ID: v.IdentityID, Name: v.Name},
			Status:   &status,
		})
		seen[v.IdentityID] = true
	}

	if meeting.Status == models.MeetingScheduled {
		identities, err := s.repo.ListIdentities(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing identities: %w", err)
		}
		for _, other := range identities {
			if seen[other.ID] {
				continue
			}
			entries = append(entries, models.AttendanceEntry{
				Identity: models.IdentityRef{ID: other.ID, Name: other.Name},
			})
		}
	}

	return moveCallerToFront(entries, identity.ID), nil
}

func moveCallerToFront(entries []models.AttendanceEntry, identityID string) []models.AttendanceEntry {
	for i := range entries {
		if entries[i].Identity.ID != identityID {
			continue
		}
		mine := entries[i]
		mine.ItsMe = true
		copy(entries[1:i+1], entries[:i])
		entries[0] = mine
		break
	}
	return entries
}

// CheckIn marks the caller present. Only the current access code of a meeting
// in session is accepted.
func (s *DefaultService) CheckIn(ctx context.Context, p models.Principal, meetingID, code string) error {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return notFound("meeting not found")
	}
	if meeting.Status != models.MeetingInSession || meeting.Code == nil {
		return forbidden("meeting is not in session")
	}
	if subtle.ConstantTimeCompare([]byte(*meeting.Code), []byte(code)) != 1 {
		return forbidden("invalid access code")
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return err
	}

	err = s.repo.CheckIn(ctx, meetingID, identity.ID, code)
	if errors.Is(err, repository.ErrStale) {
		return forbidden("meeting is not in session")
	}
	if err != nil {
		return fmt.Errorf("error checking in: %w", err)
	}

	s.logger.Info("attendee checked in", "meeting_id", meetingID, "identity_id", identity.ID)
	return nil
}

// PlanPresence records whether the caller intends to attend a scheduled meeting.
// Resubmitting the current status is rejected.
func (s *DefaultService) PlanPresence(
	ctx context.Context,
	p models.Principal,
	meetingID string,
	status models.AttendanceStatus,
) error {
	switch status {
	case models.AttendanceAccepted, models.AttendanceAbsent:
	case models.AttendancePresent:
		return badRequest("present can only be set by checking in")
	default:
		return badRequest("invalid attendance status %q", status)
	}

	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return notFound("meeting not found")
	}
	if meeting.Status != models.MeetingScheduled {
		return badRequest("attendance can only be planned for scheduled meetings")
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return err
	}

	current, err := s.repo.GetAttendance(ctx, meetingID, identity.ID)
	if err != nil {
		return fmt.Errorf("error getting attendance: %w", err)
	}
	if current != nil && current.Status == status {
		return badRequest("attendance is already %s", status)
	}

	err = s.repo.UpsertAttendance(ctx, &models.Attendance{
		MeetingID:  meetingID,
		IdentityID: identity.ID,
		Status:     status,
	}, models.MeetingScheduled)
	if errors.Is(err, repository.ErrStale) {
		return badRequest("attendance can only be planned for scheduled meetings")
	}
	if err != nil {
		return fmt.Errorf("error planning attendance: %w", err)
	}

	return nil
}
