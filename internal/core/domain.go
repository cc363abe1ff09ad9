package core

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	ProfilePersonal ProfileType = "personal"
	ProfileBusiness ProfileType = "business"

	Expense TransactionKind = "expense"
	Income  TransactionKind = "income"

	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"

	// DefaultCurrency is fixed for this deployment.
	DefaultCurrency = "INR"

	ProviderCloudinary = "cloudinary"
)

type (
	ProfileType     string
	TransactionKind string
	Role            string

	// Money is an amount in paise. All arithmetic stays integral;
	// conversion to rupees happens only at the display boundary.
	Money struct {
		Paise int64
	}

	// User is the identity record, created on first sign-in.
	User struct {
		UID          string    `bson:"_id" json:"uid"`
		Email        string    `bson:"email" json:"email"`
		DisplayName  string    `bson:"displayName" json:"displayName"`
		Username     string    `bson:"username,omitempty" json:"username,omitempty"`
		PhotoURL     string    `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
		PasswordHash string    `bson:"passwordHash,omitempty" json:"-"`
		CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	}

	// Profile is one of the two isolated financial contexts under an
	// identity. Created lazily on first write.
	Profile struct {
		UID       string         `bson:"uid" json:"uid"`
		Type      ProfileType    `bson:"profileType" json:"profileType"`
		Name      string         `bson:"name" json:"name"`
		Currency  string         `bson:"currency" json:"currency"`
		Settings  map[string]any `bson:"settings,omitempty" json:"settings,omitempty"`
		CreatedAt time.Time      `bson:"createdAt" json:"createdAt"`
	}

	Attachment struct {
		URL      string `bson:"url" json:"url"`
		Provider string `bson:"provider" json:"provider"`
		PublicID string `bson:"publicId,omitempty" json:"publicId,omitempty"`
	}

	// Metadata is populated only for business profiles.
	Metadata struct {
		Tags    []string `bson:"tags,omitempty" json:"tags,omitempty"`
		Project string   `bson:"project,omitempty" json:"project,omitempty"`
		Client  string   `bson:"client,omitempty" json:"client,omitempty"`
	}

	// Transaction belongs to exactly one profile. Date is the
	// server-assigned canonical timestamp set at write time.
	Transaction struct {
		ID          string          `bson:"_id" json:"id"`
		UID         string          `bson:"uid" json:"-"`
		Profile     ProfileType     `bson:"profileType" json:"-"`
		Amount      Money           `bson:"amountPaise" json:"amountPaise"`
		Currency    string          `bson:"currency" json:"currency"`
		Kind        TransactionKind `bson:"type" json:"type"`
		CategoryID  string          `bson:"categoryId" json:"categoryId"`
		Description string          `bson:"description" json:"description"`
		Date        time.Time       `bson:"date" json:"date"`
		CreatedBy   string          `bson:"createdBy" json:"createdBy"`
		Attachments []Attachment    `bson:"attachments,omitempty" json:"attachments,omitempty"`
		Metadata    *Metadata       `bson:"metadata,omitempty" json:"metadata,omitempty"`
	}

	// Category belongs to exactly one profile. A zero or absent
	// BudgetMonthly means the category is unbounded.
	Category struct {
		ID            string          `bson:"_id" json:"id"`
		UID           string          `bson:"uid" json:"-"`
		Profile       ProfileType     `bson:"profileType" json:"-"`
		Title         string          `bson:"title" json:"title"`
		Color         string          `bson:"color" json:"color"`
		Icon          string          `bson:"icon,omitempty" json:"icon,omitempty"`
		Kind          TransactionKind `bson:"type,omitempty" json:"type,omitempty"`
		BudgetMonthly Money           `bson:"budgetMonthlyPaise,omitempty" json:"budgetMonthlyPaise,omitempty"`
	}

	// Collaborator grants another identity access to a business
	// profile. Never hard-deleted; deactivation clears Active.
	Collaborator struct {
		UID       string      `bson:"collaboratorUid" json:"uid"`
		OwnerUID  string      `bson:"uid" json:"-"`
		Profile   ProfileType `bson:"profileType" json:"-"`
		Role      Role        `bson:"role" json:"role"`
		InvitedBy string      `bson:"invitedBy" json:"invitedBy"`
		InvitedAt time.Time   `bson:"invitedAt" json:"invitedAt"`
		Active    bool        `bson:"active" json:"active"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrMissingCategory  = errors.New("missing category")
	ErrEmptyTitle       = errors.New("empty title")
	ErrNegativeBudget   = errors.New("negative budget")
	ErrInvalidKind      = errors.New("invalid transaction type")
	ErrInvalidProfile   = errors.New("invalid profile type")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrUsernameTaken    = errors.New("username already taken")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

// ParseProfileType validates a profile selector. Anything other than
// the two known variants is rejected.
func ParseProfileType(s string) (ProfileType, error) {
	switch ProfileType(s) {
	case ProfilePersonal, ProfileBusiness:
		return ProfileType(s), nil
	}
	return "", ErrInvalidProfile
}

// DisplayName returns the default profile name for the type.
func (p ProfileType) DisplayName() string {
	if p == ProfileBusiness {
		return "Business"
	}
	return "Personal"
}

func (k TransactionKind) Validate() error {
	switch k {
	case Expense, Income:
		return nil
	}
	return ErrInvalidKind
}

// Allows reports whether the role grants at least the given privilege
// level (viewer < editor < admin).
func (r Role) Allows(required Role) bool {
	return r.rank() >= required.rank() && required.rank() > 0
}

func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

func (r Role) Validate() error {
	if r.rank() == 0 {
		return ErrInvalidRole
	}
	return nil
}

func (m Money) Validate() error {
	if m.Paise <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate applies the local checks an add-transaction submission must
// pass before any network call is attempted. Each failure maps to a
// distinct sentinel so callers can surface distinct reasons.
func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrMissingCategory
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if err := t.Kind.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks a category write. Only a non-empty title is required;
// the budget may be absent but never negative.
func (c Category) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrEmptyTitle
	}
	if c.BudgetMonthly.Paise < 0 {
		return ErrNegativeBudget
	}
	if c.Kind != "" {
		if err := c.Kind.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeUsername lowercases and trims a requested username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks the normalized form: 3-20 characters drawn
// from letters, digits and underscore.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(NormalizeUsername(s)) {
		return ErrInvalidUsername
	}
	return nil
}
