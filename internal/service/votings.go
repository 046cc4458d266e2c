package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
)

const abstainText = "abstain"

// loadVoting returns the voting or a NotFound error
func (s *DefaultService) loadVoting(ctx context.Context, id string) (*models.Voting, error) {
	voting, err := s.repo.GetVoting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting voting: %w", err)
	}
	if voting == nil {
		return nil, notFound("voting not found")
	}
	return voting, nil
}

func (s *DefaultService) votingResponse(ctx context.Context, voting *models.Voting) (*models.VotingResponse, error) {
	options, err := s.repo.GetVotingOptions(ctx, voting.ID)
	if err != nil {
		return nil, fmt.Errorf("error getting voting options: %w", err)
	}
	if options == nil {
		options = []models.VotingOption{}
	}
	return &models.VotingResponse{Voting: *voting, Options: options}, nil
}

// buildOptions trims the option texts and numbers them from 1
func buildOptions(texts []string) ([]models.VotingOption, error) {
	if len(texts) == 0 {
		return nil, badRequest("at least one option is required")
	}

	options := make([]models.VotingOption, 0, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, badRequest("option %d must not be empty", i+1)
		}
		options = append(options, models.VotingOption{Index: i + 1, Text: text})
	}

	return options, nil
}

func sameOptions(current []models.VotingOption, next []models.VotingOption) bool {
	if len(current) != len(next) {
		return false
	}
	for i := range current {
		if current[i].Index != next[i].Index || current[i].Text != next[i].Text {
			return false
		}
	}
	return true
}

func (s *DefaultService) ListVotings(ctx context.Context, p models.Principal, meetingID string) ([]models.VotingResponse, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}

	votings, err := s.repo.ListVotings(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("error listing votings: %w", err)
	}

	responses := make([]models.VotingResponse, 0, len(votings))
	for i := range votings {
		resp, err := s.votingResponse(ctx, &votings[i])
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)
	}

	return responses, nil
}

func (s *DefaultService) GetVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResponse, error) {
	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.votingResponse(ctx, voting)
}

func (s *DefaultService) CreateVoting(ctx context.Context, p models.Principal, req models.CreateVotingRequest) (*models.VotingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Question) == "" {
		return nil, badRequest("question is required")
	}

	options, err := buildOptions(req.Options)
	if err != nil {
		return nil, err
	}

	meeting, err := s.repo.GetMeeting(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}
	if meeting.Status == models.MeetingCompleted {
		return nil, badRequest("meeting is already completed")
	}

	voting := &models.Voting{
		MeetingID:   meeting.ID,
		Question:    req.Question,
		Description: req.Description,
		Anonymous:   req.Anonymous,
	}

	err = s.repo.CreateVoting(ctx, voting, options)
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("meeting is already completed")
	}
	if err != nil {
		return nil, fmt.Errorf("error creating voting: %w", err)
	}

	s.logger.Info("voting created", "voting_id", voting.ID, "meeting_id", meeting.ID, "options", len(options))
	return &models.VotingResponse{Voting: *voting, Options: options}, nil
}

// UpdateVoting changes the question, description, anonymity or options of a
// voting that was never opened
func (s *DefaultService) UpdateVoting(
	ctx context.Context,
	p models.Principal,
	id string,
	req models.UpdateVotingRequest,
) (*models.VotingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !voting.IsPending() {
		return nil, badRequest("voting has already been opened")
	}

	changed := false

	if req.Question != nil && *req.Question != voting.Question {
		if strings.TrimSpace(*req.Question) == "" {
			return nil, badRequest("question must not be empty")
		}
		voting.Question = *req.Question
		changed = true
	}

	if req.Description != nil && *req.Description != voting.Description {
		voting.Description = *req.Description
		changed = true
	}

	if req.Anonymous != nil && *req.Anonymous != voting.Anonymous {
		voting.Anonymous = *req.Anonymous
		changed = true
	}

	var options []models.VotingOption
	if req.Options != nil {
		next, err := buildOptions(req.Options)
		if err != nil {
			return nil, err
		}

		current, err := s.repo.GetVotingOptions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("error getting voting options: %w", err)
		}

		if !sameOptions(current, next) {
			options = next
			changed = true
		}
	}

	if !changed {
		return nil, conflict("no changes detected")
	}

	err = s.repo.UpdateVoting(ctx, voting, options)
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("voting has already been opened")
	}
	if err != nil {
		return nil, fmt.Errorf("error updating voting: %w", err)
	}

	s.logger.Info("voting updated", "voting_id", id)
	return s.votingResponse(ctx, voting)
}

func (s *DefaultService) DeleteVoting(ctx context.Context, p models.Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}

	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return err
	}
	if !voting.IsPending() {
		return badRequest("voting has already been opened")
	}

	err = s.repo.DeleteVoting(ctx, id)
	if errors.Is(err, repository.ErrStale) {
		return badRequest("voting has already been opened")
	}
	if err != nil {
		return fmt.Errorf("error deleting voting: %w", err)
	}

	s.logger.Info("voting deleted", "voting_id", id)
	return nil
}

// OpenVoting starts a pending voting of a meeting in session
func (s *DefaultService) OpenVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResponse, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !voting.IsPending() {
		return nil, badRequest("voting has already been opened")
	}

	meeting, err := s.repo.GetMeeting(ctx, voting.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("error getting meeting: %w", err)
	}
	if meeting == nil {
		return nil, notFound("meeting not found")
	}
	if meeting.Status != models.MeetingInSession {
		return nil, badRequest("meeting is not in session")
	}

	err = s.repo.OpenVoting(ctx, id, s.now())
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("voting has already been opened")
	}
	if err != nil {
		return nil, fmt.Errorf("error opening voting: %w", err)
	}

	s.metrics.Transition("voting_open")
	s.logger.Info("voting opened", "voting_id", id, "meeting_id", voting.MeetingID)

	voting, err = s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.votingResponse(ctx, voting)
}

// CloseVoting ends an open voting, pushes the final results to every live
// viewer and then disconnects them
func (s *DefaultService) CloseVoting(ctx context.Context, p models.Principal, id string) (*models.VotingResults, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !voting.IsOpen {
		return nil, badRequest("voting is not open")
	}

	err = s.repo.CloseVoting(ctx, id, s.now())
	if errors.Is(err, repository.ErrStale) {
		return nil, badRequest("voting is not open")
	}
	if err != nil {
		return nil, fmt.Errorf("error closing voting: %w", err)
	}

	s.metrics.Transition("voting_close")

	voting, err = s.loadVoting(ctx, id)
	if err != nil {
		return nil, err
	}

	results, err := s.tally(ctx, voting, "")
	if err != nil {
		return nil, err
	}

	// Hold the progress lock so no late progress push lands after the final payload
	lock := s.progressLock(id)
	lock.Lock()
	payload, err := json.Marshal(results)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("error encoding results: %w", err)
	}
	s.broadcaster.BroadcastBinary(id, payload)
	s.broadcaster.CloseAll(id)
	lock.Unlock()
	s.progressLocks.Delete(id)

	s.logger.Info("voting closed", "voting_id", id, "total_votes", results.TotalVotes)
	return results, nil
}

// Vote casts the caller's single vote on an open voting. Index 0 abstains.
func (s *DefaultService) Vote(ctx context.Context, p models.Principal, id string, index int) error {
	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return err
	}
	if !voting.IsOpen {
		return badRequest("voting is not open")
	}

	identity, err := s.ResolveIdentity(ctx, p)
	if err != nil {
		return err
	}

	attendance, err := s.repo.GetAttendance(ctx, voting.MeetingID, identity.ID)
	if err != nil {
		return fmt.Errorf("error getting attendance: %w", err)
	}
	if attendance == nil || attendance.Status != models.AttendancePresent {
		return forbidden("only present attendees can vote")
	}

	if index != models.AbstainIndex {
		options, err := s.repo.GetVotingOptions(ctx, id)
		if err != nil {
			return fmt.Errorf("error getting voting options: %w", err)
		}
		if !hasOption(options, index) {
			return notFound("option %d not found", index)
		}
	}

	err = s.repo.CreateVote(ctx, &models.Vote{
		VotingID:   id,
		IdentityID: identity.ID,
		Index:      index,
		CreatedAt:  s.now(),
	})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return badRequest("already voted")
	case errors.Is(err, repository.ErrStale):
		return badRequest("voting is not open")
	case err != nil:
		return fmt.Errorf("error casting vote: %w", err)
	}

	s.metrics.VoteCast()
	s.pushProgress(ctx, voting)

	return nil
}

func hasOption(options []models.VotingOption, index int) bool {
	for _, o := range options {
		if o.Index == index {
			return true
		}
	}
	return false
}

func (s *DefaultService) progressLock(votingID string) *sync.Mutex {
	lock, _ := s.progressLocks.LoadOrStore(votingID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// pushProgress counts committed votes afresh and sends "n/total" to the live
// viewers. Counting and sending happen under one lock per voting, so viewers
// never see the ratio go backwards.
func (s *DefaultService) pushProgress(ctx context.Context, voting *models.Voting) {
	lock := s.progressLock(voting.ID)
	lock.Lock()
	defer lock.Unlock()

	// The voting may have closed since the vote was cast
	current, err := s.repo.GetVoting(ctx, voting.ID)
	if err != nil {
		s.logger.Error("failed to reload voting", "voting_id", voting.ID, "error", err)
		return
	}
	if current == nil || !current.IsOpen {
		s.progressLocks.Delete(voting.ID)
		return
	}

	progress, err := s.progress(ctx, current)
	if err != nil {
		s.logger.Error("failed to compute voting progress", "voting_id", voting.ID, "error", err)
		return
	}

	s.broadcaster.BroadcastText(voting.ID, progress)
}

func (s *DefaultService) progress(ctx context.Context, voting *models.Voting) (string, error) {
	votes, err := s.repo.CountVotes(ctx, voting.ID)
	if err != nil {
		return "", fmt.Errorf("error counting votes: %w", err)
	}

	total, err := s.repo.CountAttendances(ctx, voting.MeetingID)
	if err != nil {
		return "", fmt.Errorf("error counting attendances: %w", err)
	}

	return fmt.Sprintf("%d/%d", votes, total), nil
}

// VotingProgress returns the current "n/total" ratio of an open voting
func (s *DefaultService) VotingProgress(ctx context.Context, id string) (string, error) {
	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return "", err
	}
	if !voting.IsOpen {
		return "", badRequest("voting is not open")
	}
	return s.progress(ctx, voting)
}

// WatchVoting attaches a live viewer to an open voting. attach receives the
// current progress and runs while no progress push or close of the voting can
// interleave, so a viewer either sees the final payload or is refused.
func (s *DefaultService) WatchVoting(ctx context.Context, id string, attach func(progress string)) error {
	voting, err := s.loadVoting(ctx, id)
	if err != nil {
		return err
	}
	if !voting.IsOpen {
		return badRequest("voting is not open")
	}

	lock := s.progressLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock, a close may have finished in between
	voting, err = s.loadVoting(ctx, id)
	if err == nil && !voting.IsOpen {
		err = badRequest("voting is not open")
	}
	if err != nil {
		s.progressLocks.Delete(id)
		return err
	}

	progress, err := s.progress(ctx, voting)
	if err != nil {
		return err
	}

	attach(progress)
	return nil
}
