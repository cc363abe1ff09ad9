package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"khata/internal/core"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/media"
	"khata/internal/session"
)

// StagedFile is an attachment waiting to be uploaded.
type StagedFile struct {
	Filename string
	Content  io.Reader
}

// Uploader stores attachment files and returns their hosted location.
type Uploader interface {
	Upload(ctx context.Context, filename string, content io.Reader, progress media.ProgressFunc) (media.UploadResult, error)
}

// TransactionInput is the caller-supplied part of a new transaction.
// Any date the caller chose is ignored; the store assigns the
// canonical timestamp at write time.
type TransactionInput struct {
	Amount      core.Money
	Kind        core.TransactionKind
	CategoryID  string
	Description string
	Metadata    *core.Metadata
}

// AddResult reports a committed transaction together with any
// attachments that failed to upload. Upload failures never block the
// write.
type AddResult struct {
	Transaction  core.Transaction
	UploadErrors []error
}

type TransactionService struct {
	store    Store
	uploader Uploader
	hub      Notifier
	pub      Publisher
	logger   *log.Logger
}

func NewTransactionService(st Store, up Uploader, hub Notifier, pub Publisher, logger *log.Logger) *TransactionService {
	return &TransactionService{
		store:    st,
		uploader: up,
		hub:      hub,
		pub:      pub,
		logger:   logger.WithComponent("transactions"),
	}
}

// Add validates, uploads staged attachments, and commits. Validation
// failures happen before any network traffic. Attachments upload one
// at a time; a failed file is recorded and skipped, the rest continue.
func (s *TransactionService) Add(ctx context.Context, sess session.Session, in TransactionInput, files []StagedFile, progress media.ProgressFunc) (AddResult, error) {
	tx := core.Transaction{
		ID:          uuid.NewString(),
		UID:         sess.UID,
		Profile:     sess.Profile,
		Amount:      in.Amount,
		Currency:    core.DefaultCurrency,
		Kind:        in.Kind,
		CategoryID:  in.CategoryID,
		Description: in.Description,
		CreatedBy:   sess.UID,
	}
	if sess.Profile == core.ProfileBusiness {
		tx.Metadata = in.Metadata
	}
	if err := tx.Validate(); err != nil {
		return AddResult{}, err
	}

	var uploadErrs []error
	for _, f := range files {
		res, err := s.uploader.Upload(ctx, f.Filename, f.Content, progress)
		if err != nil {
			s.logger.WarnContext(ctx, "Attachment upload failed",
				"filename", f.Filename,
				"error", err)
			uploadErrs = append(uploadErrs, fmt.Errorf("%s: %w", f.Filename, err))
			continue
		}
		tx.Attachments = append(tx.Attachments, core.Attachment{
			URL:      res.SecureURL,
			Provider: core.ProviderCloudinary,
			PublicID: res.PublicID,
		})
	}

	saved, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return AddResult{}, fmt.Errorf("insert transaction: %w", err)
	}

	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionTransactions)
	return AddResult{Transaction: saved, UploadErrors: uploadErrs}, nil
}

// TransactionUpdate lists the mutable fields. Nil pointers leave the
// field untouched.
type TransactionUpdate struct {
	Amount      *core.Money
	Kind        *core.TransactionKind
	CategoryID  *string
	Description *string
	Metadata    *core.Metadata
}

func (s *TransactionService) Update(ctx context.Context, sess session.Session, id string, upd TransactionUpdate) error {
	fields := map[string]any{}
	if upd.Amount != nil {
		if upd.Amount.Paise <= 0 {
			return core.ErrInvalidAmount
		}
		fields["amountPaise"] = upd.Amount.Paise
	}
	if upd.Kind != nil {
		if *upd.Kind != core.Expense && *upd.Kind != core.Income {
			return core.ErrInvalidKind
		}
		fields["type"] = *upd.Kind
	}
	if upd.CategoryID != nil {
		if *upd.CategoryID == "" {
			return core.ErrMissingCategory
		}
		fields["categoryId"] = *upd.CategoryID
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			return core.ErrEmptyDescription
		}
		fields["description"] = *upd.Description
	}
	if upd.Metadata != nil {
		fields["metadata"] = upd.Metadata
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updatedAt"] = time.Now().UTC()

	if err := s.store.UpdateTransaction(ctx, sess.UID, sess.Profile, id, fields); err != nil {
		return err
	}
	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionTransactions)
	return nil
}

func (s *TransactionService) Delete(ctx context.Context, sess session.Session, id string) error {
	if err := s.store.DeleteTransaction(ctx, sess.UID, sess.Profile, id); err != nil {
		return err
	}
	fanout(ctx, s.hub, s.pub, s.logger, sess.UID, sess.Profile, live.CollectionTransactions)
	return nil
}

func (s *TransactionService) List(ctx context.Context, sess session.Session) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, sess.UID, sess.Profile)
}
