package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const credentialCollection = "device_credentials"

// CredentialStore keeps one document per credential key. ReplaceOne with
// upsert makes every write atomic for its key.
type CredentialStore struct {
	coll      *mongo.Collection
	namespace string
}

// NewCredentialStore scopes documents to namespace, usually a device id.
func NewCredentialStore(db *mongo.Database, namespace string) *CredentialStore {
	return &CredentialStore{coll: db.Collection(credentialCollection), namespace: namespace}
}

type credentialDoc struct {
	ID        string `bson:"_id"`
	Namespace string `bson:"namespace"`
	Key       string `bson:"key"`
	Value     string `bson:"value"`
	UpdatedAt int64  `bson:"updated_at"`
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, bool, error) {
	var doc credentialDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": s.id(key)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find credential %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	doc := credentialDoc{
		ID:        s.id(key),
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().Unix(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert credential %s: %w", key, err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.id(key)}); err != nil {
		return fmt.Errorf("delete credential %s: %w", key, err)
	}
	return nil
}

func (s *CredentialStore) id(key string) string {
	return s.namespace + ":" + key
}
