// Package mongostore implements session.Store on top of MongoDB, for
// deployments that want a shared durable backend instead of per-process disk
// files. It is grounded on the teacher's features/session/mongo/store.go and
// features/session/mongo/clients/mongo/client.go: a thin Store delegating to
// a narrow client interface, an idempotent upsert for session creation, and
// bson.M filters; adapted here to go.mongodb.org/mongo-driver/v2 import
// paths and to a single document per session with an embedded interactions
// array, in place of the teacher's separate sessions/runs collections.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/session"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// sessionDoc mirrors session.Session for BSON (de)serialization; Mongo's
// driver stores untagged struct fields under their lowercased Go names, and
// the session package intentionally carries no bson tags (it only needs JSON
// tags for the file store), so this type supplies them instead of tagging
// the shared type.
type sessionDoc struct {
	SessionID    string                `bson:"session_id"`
	CreatedAt    time.Time             `bson:"created_at"`
	Interactions []*session.Interaction `bson:"interactions"`
}

func toDoc(s *session.Session) *sessionDoc {
	return &sessionDoc{SessionID: s.SessionID, CreatedAt: s.CreatedAt, Interactions: s.Interactions}
}

func (d *sessionDoc) toSession() *session.Session {
	return &session.Session{SessionID: d.SessionID, CreatedAt: d.CreatedAt, Interactions: d.Interactions}
}

// Store persists sessions in a single Mongo collection, one document per
// session, keyed by session_id.
type Store struct {
	coll *mongo.Collection
}

// New returns a Store backed by the given collection. Callers are expected
// to have already established the client connection and resolved the
// database/collection (spec's ambient stack mirrors the teacher's pattern of
// accepting an already-connected client rather than owning connection
// lifecycle inside the store).
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// EnsureIndexes creates the unique index on session_id the rest of this
// store's upsert logic depends on. Safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongostore: ensure index: %w", err)
	}
	return nil
}

// CreateSession implements session.Store with an idempotent upsert: a
// concurrent CreateSession for the same sessionID from two processes
// converges on a single document, created at whichever timestamp won the
// race (spec §5: a session may be resumed by a later interaction).
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (*session.Session, error) {
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": createdAt,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc sessionDoc
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("mongostore: create session %s: %w", sessionID, err)
	}
	return doc.toSession(), nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("mongostore: load session %s: %w", sessionID, err)
	}
	return doc.toSession(), nil
}

// AppendInteraction implements session.Store by pushing onto the document's
// interactions array, creating the session first if it doesn't exist yet.
func (s *Store) AppendInteraction(ctx context.Context, sessionID string, interaction *session.Interaction) error {
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"created_at": time.Now().UTC(),
		},
		"$push": bson.M{"interactions": interaction},
	}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.coll.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("mongostore: append interaction to %s: %w", sessionID, err)
	}
	return nil
}

// Close implements session.Store. The store does not own the client's
// connection lifecycle, so there is nothing to flush or release here.
func (s *Store) Close(ctx context.Context) error { return nil }
