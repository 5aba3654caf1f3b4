package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/domain"
)

type MongoStore struct {
	client   *mongo.Client
	rooms    *mongo.Collection
	members  *mongo.Collection
	messages *mongo.Collection
	docs     *mongo.Collection
	versions *mongo.Collection
	timeout  time.Duration
}

// NewMongoClient connects and pings within timeout.
func NewMongoClient(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, database string, timeout time.Duration) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client:   client,
		rooms:    db.Collection("rooms"),
		members:  db.Collection("room_members"),
		messages: db.Collection("messages"),
		docs:     db.Collection("documents"),
		versions: db.Collection("document_versions"),
		timeout:  timeout,
	}
}

// EnsureIndexes creates the indexes the gateway relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.members.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.versions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "version", Value: -1}, {Key: "created_at", Value: -1}},
	})
	return err
}

func (s *MongoStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var r domain.Room
	if err := s.rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&r); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *MongoStore) GetMembership(ctx context.Context, roomID, userID string) (*domain.RoomMembership, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var m domain.RoomMembership
	if err := s.members.FindOne(ctx, bson.M{"room_id": roomID, "user_id": userID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrNotAMember
		}
		return nil, err
	}
	return &m, nil
}

// RecentMessages reads newest first and reverses to chronological order.
func (s *MongoStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]*domain.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.ChatMessage{}
	for cur.Next(ctx) {
		var m domain.ChatMessage
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*domain.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var m domain.ChatMessage
	if err := s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *domain.ChatMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.messages.InsertOne(ctx, m)
	return err
}

func (s *MongoStore) ApplyEnrichment(ctx context.Context, messageID string, e domain.Enrichment) error {
	set := bson.M{}
	if e.Sentiment != nil {
		set["sentiment"] = *e.Sentiment
	}
	for lang, text := range e.Translations {
		set["translations."+lang] = text
	}
	if len(set) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

func (s *MongoStore) UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.members.UpdateOne(ctx,
		bson.M{"room_id": roomID, "user_id": userID},
		bson.M{"$set": bson.M{"last_read_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrNotAMember
	}
	return nil
}

func (s *MongoStore) CreateRoom(ctx context.Context, r *domain.Room) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.rooms.UpdateByID(ctx, r.ID, bson.M{"$set": bson.M{"name": r.Name}, "$setOnInsert": bson.M{"created_at": r.CreatedAt}},
		options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) AddRoomMember(ctx context.Context, m domain.RoomMembership) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.members.UpdateOne(ctx,
		bson.M{"room_id": m.RoomID, "user_id": m.UserID},
		bson.M{"$setOnInsert": m},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) GetDocument(ctx context.Context, docID string) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var d domain.Document
	if err := s.docs.FindOne(ctx, bson.M{"_id": docID}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpdateDocumentContent relies on $inc so concurrent writers never share a version.
func (s *MongoStore) UpdateDocumentContent(ctx context.Context, docID, content, editorID string, at time.Time) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res := s.docs.FindOneAndUpdate(ctx,
		bson.M{"_id": docID},
		bson.M{
			"$set": bson.M{"content": content, "last_edited_by": editorID, "last_edited_at": at},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var d domain.Document
	if err := res.Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *MongoStore) InsertVersion(ctx context.Context, v *domain.DocumentVersion) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.versions.InsertOne(ctx, v); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.ErrVersionExists
		}
		return err
	}
	return nil
}

func (s *MongoStore) ListVersions(ctx context.Context, docID string, limit int) ([]*domain.DocumentVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.versions.Find(ctx, bson.M{"document_id": docID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.DocumentVersion{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) CreateDocument(ctx context.Context, d *domain.Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.docs.UpdateByID(ctx, d.ID, bson.M{"$setOnInsert": d}, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
