package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
)

func validLang(lang string) bool {
	if len(lang) != 2 {
		return false
	}
	for _, c := range lang {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

func toRecordResponse(view *models.RecordView) *models.RecordResponse {
	return &models.RecordResponse{
		MeetingID: view.MeetingID,
		Lang:      view.Lang,
		Content:   view.Content,
		Identity:  models.IdentityRef{ID: view.IdentityID, Name: view.IdentityName},
		Status:    view.Status,
		UpdatedAt: view.UpdatedAt,
	}
}

func (s *DefaultService) ListRecords(ctx context.Context, p models.Principal, meetingID string) ([]models.RecordResponse, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}

	views, err := s.repo.ListRecordViews(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %w", err)
	}

	records := make([]models.RecordResponse, 0, len(views))
	for i := range views {
		records = append(records, *toRecordResponse(&views[i]))
	}

	return records, nil
}

func (s *DefaultService) GetRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error) {
	if !validLang(lang) {
		return nil, badRequest("invalid language code %q", lang)
	}
	return s.recordResponse(ctx, meetingID, lang)
}

func (s *DefaultService) recordResponse(ctx context.Context, meetingID, lang string) (*models.RecordResponse, error) {
	view, err := s.repo.GetRecordView(ctx, meetingID, lang)
	if err != nil {
		return nil, fmt.Errorf("error getting record: %w", err)
	}
	if view == nil {
		return nil, notFound("record not found")
	}
	return toRecordResponse(view), nil
}

// loadRecord validates lang and returns the record or a NotFound error
func (s *DefaultService) loadRecord(ctx context.Context, meetingID, lang string) (*models.Record, error) {
	if !validLang(lang) {
		return nil, badRequest("invalid language code %q", lang)
	}

	record, err := s.repo.GetRecord(ctx, meetingID, lang)
	if err != nil {
		return nil, fmt.Errorf("error getting record: %w", err)
	}
	if record == nil {
		return nil, notFound("record not found")
	}

	return record, nil
}

// UpdateRecord edits content and/or hands the record to another editor.
// Admins may always edit until approval; the responsible identity may edit its
// own underway record but not reassign it.
func (s *DefaultService) UpdateRecord(
	ctx context.Context,
	p models.Principal,
	meetingID string,
	lang string,
	req models.UpdateRecordRequest,
) (*models.RecordResponse, error) {
	record, err := s.loadRecord(ctx, meetingID, lang)
	if err != nil {
		return nil, err
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return nil, err
	}

	reassign := req.IdentityID != nil && *req.IdentityID != record.IdentityID
	if !p.IsAdmin && (identity.ID != record.IdentityID || reassign) {
		return nil, forbidden("not allowed to edit this record")
	}

	switch record.Status {
	case models.RecordApproved:
		return nil, badRequest("approved records cannot be changed")
	case models.RecordSubmitted:
		if !p.IsAdmin {
			return nil, forbidden("submitted records can only be changed by an admin")
		}
	}

	from := *record
	changed := false

	if req.Content != nil && *req.Content != record.Content {
		record.Content = *req.Content
		changed = true
	}

	if reassign {
		attendance, err := s.repo.GetAttendance(ctx, meetingID, *req.IdentityID)
		if err != nil {
			return nil, fmt.Errorf("error getting attendance: %w", err)
		}
		if attendance == nil || attendance.Status != models.AttendancePresent {
			return nil, badRequest("the new editor must be present at the meeting")
		}
		record.IdentityID = *req.IdentityID
		record.Status = models.RecordUnderway
		changed = true
	}

	if !changed {
		return nil, conflict("no changes detected")
	}

	if err := s.saveRecord(ctx, record, from); err != nil {
		return nil, err
	}

	return s.recordResponse(ctx, meetingID, lang)
}

// saveRecord writes record over the version it was read as
func (s *DefaultService) saveRecord(ctx context.Context, record *models.Record, from models.Record) error {
	err := s.repo.UpdateRecord(ctx, record, from)
	if errors.Is(err, repository.ErrStale) {
		return conflict("record was changed concurrently, reload and retry")
	}
	if err != nil {
		return fmt.Errorf("error saving record: %w", err)
	}
	return nil
}

// SubmitRecord hands an underway record to the admins for approval
func (s *DefaultService) SubmitRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error) {
	record, err := s.loadRecord(ctx, meetingID, lang)
	if err != nil {
		return nil, err
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return nil, err
	}

	if identity.ID != record.IdentityID {
		return nil, forbidden("only the responsible editor can submit this record")
	}
	if record.Status != models.RecordUnderway {
		return nil, badRequest("only underway records can be submitted")
	}

	from := *record
	record.Status = models.RecordSubmitted
	if err := s.saveRecord(ctx, record, from); err != nil {
		return nil, err
	}

	s.logger.Info("record submitted", "meeting_id", meetingID, "lang", lang)
	return s.recordResponse(ctx, meetingID, lang)
}

func (s *DefaultService) ApproveRecord(ctx context.Context, p models.Principal, meetingID, lang string) (*models.RecordResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	record, err := s.loadRecord(ctx, meetingID, lang)
	if err != nil {
		return nil, err
	}
	if record.Status != models.RecordSubmitted {
		return nil, badRequest("only submitted records can be approved")
	}

	from := *record
	record.Status = models.RecordApproved
	if err := s.saveRecord(ctx, record, from); err != nil {
		return nil, err
	}

	s.logger.Info("record approved", "meeting_id", meetingID, "lang", lang)
	return s.recordResponse(ctx, meetingID, lang)
}

func (s *DefaultService) DeleteRecord(ctx context.Context, p models.Principal, meetingID, lang string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if lang == s.defaultLang {
		return badRequest("the default-language record cannot be deleted")
	}

	if _, err := s.loadRecord(ctx, meetingID, lang); err != nil {
		return err
	}

	err := s.repo.DeleteRecord(ctx, meetingID, lang)
	if errors.Is(err, repository.ErrStale) {
		return notFound("record not found")
	}
	if err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}

	return nil
}

// TranslateRecord copies the record in lang to lang2 as a new underway record
func (s *DefaultService) TranslateRecord(
	ctx context.Context,
	p models.Principal,
	meetingID string,
	lang string,
	lang2 string,
	req models.TranslateRecordRequest,
) (*models.RecordResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if !validLang(lang2) {
		return nil, badRequest("invalid language code %q", lang2)
	}
	if lang == lang2 {
		return nil, badRequest("source and target language are the same")
	}

	source, err := s.loadRecord(ctx, meetingID, lang)
	if err != nil {
		return nil, err
	}

	var responsibleID string
	if req.IdentityID != nil {
		target, err := s.repo.GetIdentity(ctx, *req.IdentityID)
		if err != nil {
			return nil, fmt.Errorf("error getting identity: %w", err)
		}
		if target == nil {
			return nil, notFound("identity not found")
		}
		responsibleID = target.ID
	} else {
		identity, err := s.ResolveIdentity(ctx, p)
		if err != nil {
			return nil, err
		}
		responsibleID = identity.ID
	}

	translation := &models.Record{
		MeetingID:  meetingID,
		Lang:       lang2,
		Content:    source.Content,
		IdentityID: responsibleID,
		Status:     models.RecordUnderway,
	}

	err = s.repo.CreateRecord(ctx, translation)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, conflict("a record for language %q already exists", lang2)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating translation: %w", err)
	}

	s.logger.Info("record translated", "meeting_id", meetingID, "from", lang, "to", lang2)
	return s.recordResponse(ctx, meetingID, lang2)
}
