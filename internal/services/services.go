// Package services holds the write paths. Each mutation validates
// locally, commits to the store, then fans out change notifications;
// notification failures never roll back a committed write.
package services

import (
	"context"
	"errors"

	"khata/internal/core"
	"khata/internal/events"
	"khata/internal/live"
	"khata/internal/log"
)

var (
	ErrForbidden    = errors.New("operation not permitted")
	ErrUnknownUser  = errors.New("unknown user")
	ErrSelfInvite   = errors.New("cannot invite yourself")
	ErrOwnerProfile = errors.New("collaborators exist only on business profiles")
)

// Store is the slice of the repository the services write through.
type Store interface {
	GetUser(ctx context.Context, uid string) (core.User, error)
	UIDByUsername(ctx context.Context, username string) (string, error)

	ListTransactions(ctx context.Context, uid string, ptype core.ProfileType) ([]core.Transaction, error)
	InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error
	DeleteTransaction(ctx context.Context, uid string, ptype core.ProfileType, id string) error

	ListCategories(ctx context.Context, uid string, ptype core.ProfileType) ([]core.Category, error)
	InsertCategory(ctx context.Context, cat core.Category) error
	UpdateCategory(ctx context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error
	DeleteCategory(ctx context.Context, uid string, ptype core.ProfileType, id string) error

	ListCollaborators(ctx context.Context, ownerUID string, ptype core.ProfileType) ([]core.Collaborator, error)
	GetCollaborator(ctx context.Context, ownerUID string, ptype core.ProfileType, uid string) (core.Collaborator, error)
	UpsertCollaborator(ctx context.Context, col core.Collaborator) error
	DeactivateCollaborator(ctx context.Context, ownerUID string, ptype core.ProfileType, uid string) error
}

// Publisher carries change events to other instances and the alerts
// worker. Optional.
type Publisher interface {
	PublishChange(ctx context.Context, event *events.ChangeEvent) error
}

// Notifier refreshes in-process live subscriptions.
type Notifier interface {
	Notify(ctx context.Context, key live.Key)
}

// fanout refreshes local subscribers and publishes the change event.
// The write is already committed; failures here are logged only.
func fanout(ctx context.Context, hub Notifier, pub Publisher, logger *log.Logger, uid string, profile core.ProfileType, collection string) {
	if hub != nil {
		hub.Notify(ctx, live.Key{UID: uid, Profile: profile, Collection: collection})
	}
	if pub != nil {
		if err := pub.PublishChange(ctx, events.NewChangeEvent(uid, profile, collection)); err != nil {
			logger.WarnContext(ctx, "Change event not published",
				"error", err,
				"uid", uid,
				"collection", collection)
		}
	}
}

// authorize checks whether actor may act on owner's data at the given
// level. Owners hold every permission on their own profiles.
func authorize(ctx context.Context, st Store, actorUID, ownerUID string, profile core.ProfileType, need core.Role) error {
	if actorUID == ownerUID {
		return nil
	}
	if profile != core.ProfileBusiness {
		return ErrForbidden
	}
	col, err := st.GetCollaborator(ctx, ownerUID, profile, actorUID)
	if err != nil {
		return ErrForbidden
	}
	if !col.Active || !col.Role.Allows(need) {
		return ErrForbidden
	}
	return nil
}
