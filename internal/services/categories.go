package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"khata/internal/core"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/session"
)

type CategoryInput struct {
	Title         string
	Color         string
	Icon          string
	Kind          core.TransactionKind
	BudgetMonthly core.Money
}

type CategoryService struct {
	store  Store
	hub    Notifier
	pub    Publisher
	logger *log.Logger
}

func NewCategoryService(st Store, hub Notifier, pub Publisher, logger *log.Logger) *CategoryService {
	return &CategoryService{
		store:  st,
		hub:    hub,
		pub:    pub,
		logger: logger.WithComponent("categories"),
	}
}

func (s *CategoryService) Add(ctx context.Context, sess session.Session, in CategoryInput) (core.Category, error) {
	cat := core.Category{
		ID:            uuid.NewString(),
		UID:           sess.UID,
		Profile:       sess.Profile,
		Title:         in.Title,
		Color:         in.Color,
		Icon:          in.Icon,
		Kind:          in.Kind,
		BudgetMonthly: in.BudgetMonthly,
	}
	if err := cat.Validate(); err != nil {
		return core.Category{}, err
	}
	if err := s.store.InsertCategory(ctx, cat); err != nil {
		return core.Category{}, err
	}
	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionCategories)
	return cat, nil
}

// CategoryUpdate lists the mutable fields. Nil pointers leave the
// field untouched.
type CategoryUpdate struct {
	Title         *string
	Color         *string
	Icon          *string
	BudgetMonthly *core.Money
}

func (s *CategoryService) Update(ctx context.Context, sess session.Session, id string, upd CategoryUpdate) error {
	fields := map[string]any{}
	if upd.Title != nil {
		if *upd.Title == "" {
			return core.ErrEmptyTitle
		}
		fields["title"] = *upd.Title
	}
	if upd.Color != nil {
		fields["color"] = *upd.Color
	}
	if upd.Icon != nil {
		fields["icon"] = *upd.Icon
	}
	if upd.BudgetMonthly != nil {
		if upd.BudgetMonthly.Paise < 0 {
			return core.ErrNegativeBudget
		}
		fields["budgetMonthlyPaise"] = upd.BudgetMonthly.Paise
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updatedAt"] = time.Now().UTC()

	if err := s.store.UpdateCategory(ctx, sess.UID, sess.Profile, id, fields); err != nil {
		return err
	}
	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionCategories)
	return nil
}

// Delete removes a category. Transactions keep their category id; the
// dangling reference degrades to an unknown label at read time.
func (s *CategoryService) Delete(ctx context.Context, sess session.Session, id string) error {
	if err := s.store.DeleteCategory(ctx, sess.UID, sess.Profile, id); err != nil {
		return err
	}
	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionCategories)
	return nil
}

func (s *CategoryService) List(ctx context.Context, sess session.Session) ([]core.Category, error) {
	return s.store.ListCategories(ctx, sess.UID, sess.Profile)
}
