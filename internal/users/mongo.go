package users

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	collectionName = "users"
	emailIndexName = "email_unique"
	pingTimeout    = 5 * time.Second
)

// userDocument は users コレクションのドキュメント形式です。
type userDocument struct {
	ID           bson.ObjectID `bson:"_id"`
	Email        string        `bson:"email"`
	PasswordHash string        `bson:"password"`
	FirstName    string        `bson:"firstName,omitempty"`
	LastName     string        `bson:"lastName,omitempty"`
	CreatedAt    time.Time     `bson:"createdAt"`
}

func (d *userDocument) toUser() *User {
	return &User{
		ID:           d.ID.Hex(),
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		CreatedAt:    d.CreatedAt,
	}
}

// Connect は MongoDB に接続し、疎通確認まで行います。
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}
	return client, nil
}

// MongoStore は MongoDB の users コレクションを使う Store 実装です。
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore は db の users コレクションを使う MongoStore を作成します。
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll: db.Collection(collectionName),
		now:  time.Now,
	}
}

// EnsureIndexes は email の一意制約インデックスを作成します。起動時に一度呼び出します。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(emailIndexName),
	})
	if err != nil {
		return oops.Code("USER_STORE_FAILED").
			With("operation", "create index").
			Wrap(err)
	}
	return nil
}

// Create はレコードを保存します。email の重複は一意インデックスで検出します。
func (s *MongoStore) Create(ctx context.Context, user *User) (*User, error) {
	record, err := prepare(user, s.now())
	if err != nil {
		return nil, err
	}

	doc := userDocument{
		ID:           bson.NewObjectID(),
		Email:        record.Email,
		PasswordHash: record.PasswordHash,
		FirstName:    record.FirstName,
		LastName:     record.LastName,
		CreatedAt:    record.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, oops.Code("USER_STORE_FAILED").
			With("operation", "insert").
			Wrap(err)
	}
	return doc.toUser(), nil
}

// FindByEmail はメールアドレスで検索します。
func (s *MongoStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: NormalizeEmail(email)}}, "find by email")
}

// FindByID は ID で検索します。ID の形式が不正な場合も ErrNotFound を返します。
func (s *MongoStore) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.D{{Key: "_id", Value: oid}}, "find by id")
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, operation string) (*User, error) {
	var doc userDocument
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("USER_STORE_FAILED").
			With("operation", operation).
			Wrap(err)
	}
	return doc.toUser(), nil
}
