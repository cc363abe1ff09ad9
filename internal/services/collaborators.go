package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"khata/internal/core"
	"khata/internal/log"
	"khata/internal/session"
	"khata/internal/store"
)

// CollaboratorService manages access grants on business profiles.
// Grants are never hard-deleted; deactivation keeps the audit trail
// and a re-invite reactivates the record.
type CollaboratorService struct {
	store  Store
	logger *log.Logger
}

func NewCollaboratorService(st Store, logger *log.Logger) *CollaboratorService {
	return &CollaboratorService{store: st, logger: logger.WithComponent("collaborators")}
}

// Invite grants access to the user holding a username. Only the owner
// or an admin collaborator may invite.
func (s *CollaboratorService) Invite(ctx context.Context, sess session.Session, ownerUID, username string, role core.Role) (core.Collaborator, error) {
	if sess.Profile != core.ProfileBusiness {
		return core.Collaborator{}, ErrOwnerProfile
	}
	if role != core.RoleViewer && role != core.RoleEditor && role != core.RoleAdmin {
		return core.Collaborator{}, core.ErrInvalidRole
	}
	if err := authorize(ctx, s.store, sess.UID, ownerUID, sess.Profile, core.RoleAdmin); err != nil {
		return core.Collaborator{}, err
	}

	uid, err := s.store.UIDByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return core.Collaborator{}, ErrUnknownUser
	}
	if err != nil {
		return core.Collaborator{}, fmt.Errorf("resolve username: %w", err)
	}
	if uid == ownerUID {
		return core.Collaborator{}, ErrSelfInvite
	}

	col := core.Collaborator{
		UID:       uid,
		OwnerUID:  ownerUID,
		Profile:   sess.Profile,
		Role:      role,
		InvitedBy: sess.UID,
		InvitedAt: time.Now().UTC(),
		Active:    true,
	}
	if err := s.store.UpsertCollaborator(ctx, col); err != nil {
		return core.Collaborator{}, fmt.Errorf("save collaborator: %w", err)
	}
	s.logger.InfoContext(ctx, "Collaborator invited",
		"owner", ownerUID,
		"collaborator", uid,
		"role", role)
	return col, nil
}

// Deactivate revokes a collaborator's access.
func (s *CollaboratorService) Deactivate(ctx context.Context, sess session.Session, ownerUID, collaboratorUID string) error {
	if err := authorize(ctx, s.store, sess.UID, ownerUID, sess.Profile, core.RoleAdmin); err != nil {
		return err
	}
	return s.store.DeactivateCollaborator(ctx, ownerUID, sess.Profile, collaboratorUID)
}

// List returns the grants on an owner's business profile. Any active
// collaborator may see the roster.
func (s *CollaboratorService) List(ctx context.Context, sess session.Session, ownerUID string) ([]core.Collaborator, error) {
	if err := authorize(ctx, s.store, sess.UID, ownerUID, sess.Profile, core.RoleViewer); err != nil {
		return nil, err
	}
	return s.store.ListCollaborators(ctx, ownerUID, sess.Profile)
}
