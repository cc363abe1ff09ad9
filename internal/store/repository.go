package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"khata/internal/core"
	"khata/internal/log"
)

// The transaction subscription is time-bounded: only the 100 most
// recent records are queried, so aggregation downstream is exact only
// for profiles within that bound. Accepted behavior.
const TransactionQueryLimit = 100

var ErrNotFound = errors.New("not found")

// Repository wraps a mongo database with the operations the service
// layer needs. Callers pass contexts; no retries are layered on top of
// the driver's defaults.
type Repository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *log.Logger
}

func NewRepository(client *mongo.Client, database string, logger *log.Logger) *Repository {
	return &Repository{
		client: client,
		db:     client.Database(database),
		logger: logger.WithComponent("store"),
	}
}

// ---- Users and usernames ----

func (r *Repository) GetUser(ctx context.Context, uid string) (core.User, error) {
	var u core.User
	err := r.db.Collection(UsersCollection).FindOne(ctx, bson.M{"_id": uid}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	var u core.User
	err := r.db.Collection(UsersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// CreateUser writes the identity record and reserves its default
// username in one multi-document transaction: both records land or
// neither does.
func (r *Repository) CreateUser(ctx context.Context, u core.User) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if _, err := r.db.Collection(UsersCollection).InsertOne(sc, u); err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		if u.Username != "" {
			if err := r.insertReservation(sc, u.UID, u.Username); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// UpdateUser merges the given fields into the identity record.
func (r *Repository) UpdateUser(ctx context.Context, uid string, fields map[string]any) error {
	_, err := r.db.Collection(UsersCollection).UpdateOne(ctx, bson.M{"_id": uid}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UsernameAvailable reports whether the normalized username has no
// reservation.
func (r *Repository) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	name := core.NormalizeUsername(username)
	err := r.db.Collection(UsernamesCollection).FindOne(ctx, bson.M{"_id": name}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return false, nil
}

// UIDByUsername resolves a username reservation to its identity.
func (r *Repository) UIDByUsername(ctx context.Context, username string) (string, error) {
	var doc struct {
		UID string `bson:"uid"`
	}
	name := core.NormalizeUsername(username)
	err := r.db.Collection(UsernamesCollection).FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup username: %w", err)
	}
	return doc.UID, nil
}

// ClaimUsername atomically writes the reservation record and the
// username field on the identity. Under two concurrent claims for the
// same name, exactly one transaction commits; the loser surfaces
// core.ErrUsernameTaken.
func (r *Repository) ClaimUsername(ctx context.Context, uid, username string) error {
	name := core.NormalizeUsername(username)
	if err := core.ValidateUsername(name); err != nil {
		return err
	}

	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		taken := r.db.Collection(UsernamesCollection).FindOne(sc, bson.M{"_id": name}).Err()
		if taken == nil {
			return nil, core.ErrUsernameTaken
		}
		if !errors.Is(taken, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("check reservation: %w", taken)
		}
		if err := r.insertReservation(sc, uid, name); err != nil {
			return nil, err
		}
		res, err := r.db.Collection(UsersCollection).UpdateOne(sc, bson.M{"_id": uid}, bson.M{"$set": bson.M{"username": name}})
		if err != nil {
			return nil, fmt.Errorf("set username: %w", err)
		}
		if res.MatchedCount == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	return err
}

func (r *Repository) insertReservation(ctx context.Context, uid, name string) error {
	_, err := r.db.Collection(UsernamesCollection).InsertOne(ctx, bson.M{"_id": name, "uid": uid})
	if mongo.IsDuplicateKeyError(err) {
		return core.ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// ---- Refresh sessions ----

func (r *Repository) AddSession(ctx context.Context, uid, refreshToken string, expiresAt time.Time) error {
	_, err := r.db.Collection(SessionsCollection).InsertOne(ctx, bson.M{
		"uid":          uid,
		"refreshToken": refreshToken,
		"expiresAt":    expiresAt,
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, refreshToken string) error {
	_, err := r.db.Collection(SessionsCollection).DeleteOne(ctx, bson.M{"refreshToken": refreshToken})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SessionUID resolves an unexpired refresh token to its identity.
func (r *Repository) SessionUID(ctx context.Context, refreshToken string) (string, error) {
	var doc struct {
		UID       string    `bson:"uid"`
		ExpiresAt time.Time `bson:"expiresAt"`
	}
	err := r.db.Collection(SessionsCollection).FindOne(ctx, bson.M{"refreshToken": refreshToken}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if time.Now().After(doc.ExpiresAt) {
		return "", ErrNotFound
	}
	return doc.UID, nil
}

// ---- Profiles ----

// EnsureProfile creates the profile document on first write if absent.
func (r *Repository) EnsureProfile(ctx context.Context, uid string, ptype core.ProfileType) error {
	filter := bson.M{"uid": uid, "profileType": ptype}
	update := bson.M{"$setOnInsert": core.Profile{
		UID:       uid,
		Type:      ptype,
		Name:      ptype.DisplayName(),
		Currency:  core.DefaultCurrency,
		Settings:  map[string]any{},
		CreatedAt: time.Now().UTC(),
	}}
	res, err := r.db.Collection(ProfilesCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	if res.UpsertedCount > 0 {
		r.logger.InfoContext(ctx, "Profile created", "uid", uid, "profile", ptype)
	}
	return nil
}

func (r *Repository) GetProfile(ctx context.Context, uid string, ptype core.ProfileType) (core.Profile, error) {
	var p core.Profile
	err := r.db.Collection(ProfilesCollection).FindOne(ctx, bson.M{"uid": uid, "profileType": ptype}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Profile{}, ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ---- Transactions ----

// ListTransactions returns the profile's 100 most recent records,
// newest first by canonical date.
func (r *Repository) ListTransactions(ctx context.Context, uid string, ptype core.ProfileType) ([]core.Transaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetLimit(TransactionQueryLimit)
	cur, err := r.db.Collection(TransactionsCollection).Find(ctx, bson.M{"uid": uid, "profileType": ptype}, opts)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := []core.Transaction{}
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}

// InsertTransaction writes the record with a server-assigned canonical
// date. Any client-supplied date has already been discarded upstream.
func (r *Repository) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := r.EnsureProfile(ctx, tx.UID, tx.Profile); err != nil {
		return core.Transaction{}, err
	}
	tx.Date = time.Now().UTC()
	if _, err := r.db.Collection(TransactionsCollection).InsertOne(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	r.logger.InfoContext(ctx, "Transaction saved",
		"id", tx.ID,
		"uid", tx.UID,
		"profile", tx.Profile,
		"type", tx.Kind,
		"amount_paise", tx.Amount.Paise)
	return tx, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error {
	filter := bson.M{"_id": id, "uid": uid, "profileType": ptype}
	res, err := r.db.Collection(TransactionsCollection).UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, uid string, ptype core.ProfileType, id string) error {
	filter := bson.M{"_id": id, "uid": uid, "profileType": ptype}
	res, err := r.db.Collection(TransactionsCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Categories ----

// ListCategories returns the profile's categories, unordered and
// uncapped.
func (r *Repository) ListCategories(ctx context.Context, uid string, ptype core.ProfileType) ([]core.Category, error) {
	cur, err := r.db.Collection(CategoriesCollection).Find(ctx, bson.M{"uid": uid, "profileType": ptype})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer cur.Close(ctx)

	cats := []core.Category{}
	if err := cur.All(ctx, &cats); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return cats, nil
}

func (r *Repository) InsertCategory(ctx context.Context, cat core.Category) error {
	if err := r.EnsureProfile(ctx, cat.UID, cat.Profile); err != nil {
		return err
	}
	if _, err := r.db.Collection(CategoriesCollection).InsertOne(ctx, cat); err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

func (r *Repository) UpdateCategory(ctx context.Context, uid string, ptype core.ProfileType, id string, fields map[string]any) error {
	filter := bson.M{"_id": id, "uid": uid, "profileType": ptype}
	res, err := r.db.Collection(CategoriesCollection).UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteCategory(ctx context.Context, uid string, ptype core.ProfileType, id string) error {
	filter := bson.M{"_id": id, "uid": uid, "profileType": ptype}
	res, err := r.db.Collection(CategoriesCollection).DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Collaborators ----

func (r *Repository) ListCollaborators(ctx context.Context, ownerUID string, ptype core.ProfileType) ([]core.Collaborator, error) {
	cur, err := r.db.Collection(CollaboratorsCollection).Find(ctx, bson.M{"uid": ownerUID, "profileType": ptype})
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer cur.Close(ctx)

	cols := []core.Collaborator{}
	if err := cur.All(ctx, &cols); err != nil {
		return nil, fmt.Errorf("decode collaborators: %w", err)
	}
	return cols, nil
}

func (r *Repository) GetCollaborator(ctx context.Context, ownerUID string, ptype core.ProfileType, uid string) (core.Collaborator, error) {
	var c core.Collaborator
	filter := bson.M{"uid": ownerUID, "profileType": ptype, "collaboratorUid": uid}
	err := r.db.Collection(CollaboratorsCollection).FindOne(ctx, filter).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return core.Collaborator{}, ErrNotFound
	}
	if err != nil {
		return core.Collaborator{}, fmt.Errorf("get collaborator: %w", err)
	}
	return c, nil
}

// UpsertCollaborator records or refreshes a grant. Re-inviting a
// deactivated collaborator reactivates the same record.
func (r *Repository) UpsertCollaborator(ctx context.Context, col core.Collaborator) error {
	if err := r.EnsureProfile(ctx, col.OwnerUID, col.Profile); err != nil {
		return err
	}
	filter := bson.M{"uid": col.OwnerUID, "profileType": col.Profile, "collaboratorUid": col.UID}
	update := bson.M{"$set": col}
	_, err := r.db.Collection(CollaboratorsCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

// DeactivateCollaborator clears the active flag. There is no hard
// delete for collaborator records.
func (r *Repository) DeactivateCollaborator(ctx context.Context, ownerUID string, ptype core.ProfileType, uid string) error {
	filter := bson.M{"uid": ownerUID, "profileType": ptype, "collaboratorUid": uid}
	res, err := r.db.Collection(CollaboratorsCollection).UpdateOne(ctx, filter, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return fmt.Errorf("deactivate collaborator: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
