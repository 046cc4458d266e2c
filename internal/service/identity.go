package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/repository"
)

// ResolveIdentity maps the caller's account to its durable identity, creating
// one on first sight. Results are cached per user.
func (s *DefaultService) ResolveIdentity(ctx context.Context, p models.Principal) (*models.Identity, error) {
	if p.UserID == "" {
		return nil, unauthorized("missing user")
	}

	if cached, ok := s.identities.Get(p.UserID); ok {
		return cached.(*models.Identity), nil
	}

	identity, err := s.repo.GetIdentityByUserID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("error getting identity: %w", err)
	}

	if identity == nil {
		name := p.Name
		if name == "" {
			name = p.UserID
		}

		identity = &models.Identity{Name: name}
		err = s.repo.CreateIdentityForUser(ctx, p.UserID, identity)
		if errors.Is(err, repository.ErrDuplicate) {
			// Another request created it first
			identity, err = s.repo.GetIdentityByUserID(ctx, p.UserID)
			if err == nil && identity == nil {
				err = errors.New("identity vanished after concurrent creation")
			}
		}
		if err != nil {
			return nil, fmt.Errorf("error creating identity: %w", err)
		}

		s.logger.Info("identity created", "user_id", p.UserID, "identity_id", identity.ID)
	}

	s.identities.SetDefault(p.UserID, identity)
	return identity, nil
}

func (s *DefaultService) ListIdentities(ctx context.Context) ([]models.IdentityRef, error) {
	identities, err := s.repo.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing identities: %w", err)
	}

	refs := make([]models.IdentityRef, 0, len(identities))
	for _, identity := range identities {
		refs = append(refs, models.IdentityRef{ID: identity.ID, Name: identity.Name})
	}

	return refs, nil
}

// ReassignIdentity points an account at another identity, e.g. after merging
// profiles. It is refused while the current identity is checked in to a running meeting.
func (s *DefaultService) ReassignIdentity(ctx context.Context, p models.Principal, req models.ReassignIdentityRequest) error {
	if err := requireAdmin(p); err != nil {
		return err
	}

	target, err := s.repo.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return fmt.Errorf("error getting identity: %w", err)
	}
	if target == nil {
		return notFound("identity not found")
	}

	current, err := s.repo.GetIdentityByUserID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("error getting identity: %w", err)
	}

	if current != nil {
		if current.ID == target.ID {
			return conflict("user is already mapped to this identity")
		}

		present, err := s.repo.IsPresentInSession(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("error checking attendance: %w", err)
		}
		if present {
			return locked("identity is attending a meeting in session")
		}
	}

	if err := s.repo.MapUserToIdentity(ctx, req.UserID, target.ID); err != nil {
		return fmt.Errorf("error reassigning identity: %w", err)
	}

	s.identities.Delete(req.UserID)
	s.logger.Info("identity reassigned", "user_id", req.UserID, "identity_id", target.ID)

	return nil
}
