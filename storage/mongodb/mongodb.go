// Package mongodb provides a MongoDB storage.Store backend, grounded
// on the teacher's per-collection index setup in Init.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

// Store implements storage.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri and selects database.
func New(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Init(ctx context.Context) error {
	indexes := []struct {
		collection string
		keys       bson.D
		unique     bool
	}{
		{"contacts", bson.D{{Key: "username", Value: 1}}, true},
		{"device_identities", bson.D{{Key: "username", Value: 1}, {Key: "device_id", Value: 1}}, true},
		{"chat_messages", bson.D{{Key: "remote_id", Value: 1}}, true},
		{"chat_messages", bson.D{{Key: "conversation_id", Value: 1}, {Key: "order", Value: 1}}, false},
		{"jobs", bson.D{{Key: "scheduled_at", Value: 1}}, false},
	}
	for _, idx := range indexes {
		_, err := s.db.Collection(idx.collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    idx.keys,
			Options: options.Index().SetUnique(idx.unique),
		})
		if err != nil {
			return fmt.Errorf("mongodb: create index on %s: %w", idx.collection, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) DeviceConfigStore() storage.DeviceConfigStore     { return (*deviceConfigStore)(s) }
func (s *Store) ContactStore() storage.ContactStore               { return (*contactStore)(s) }
func (s *Store) ConversationStore() storage.ConversationStore     { return (*conversationStore)(s) }
func (s *Store) DeviceIdentityStore() storage.DeviceIdentityStore { return (*deviceIdentityStore)(s) }
func (s *Store) ChatMessageStore() storage.ChatMessageStore       { return (*chatMessageStore)(s) }
func (s *Store) JobStore() storage.JobStore                       { return (*jobStore)(s) }

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// deviceConfigDoc is the singleton document holding the local device
// salt and sealed device config, keyed by a fixed _id.
type deviceConfigDoc struct {
	ID     string `bson:"_id"`
	Salt   []byte `bson:"salt,omitempty"`
	Sealed []byte `bson:"sealed,omitempty"`
}

const deviceConfigDocID = "singleton"

type deviceConfigStore Store

func (d *deviceConfigStore) SaveDeviceSalt(ctx context.Context, salt []byte) error {
	s := (*Store)(d)
	_, err := s.col("device_config").UpdateByID(ctx, deviceConfigDocID,
		bson.M{"$set": bson.M{"salt": salt}}, options.UpdateOne().SetUpsert(true))
	return err
}

func (d *deviceConfigStore) LoadDeviceSalt(ctx context.Context) ([]byte, bool, error) {
	s := (*Store)(d)
	var doc deviceConfigDoc
	err := s.col("device_config").FindOne(ctx, bson.M{"_id": deviceConfigDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments || len(doc.Salt) == 0 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc.Salt, true, nil
}

func (d *deviceConfigStore) SaveDeviceConfig(ctx context.Context, sealed []byte) error {
	s := (*Store)(d)
	_, err := s.col("device_config").UpdateByID(ctx, deviceConfigDocID,
		bson.M{"$set": bson.M{"sealed": sealed}}, options.UpdateOne().SetUpsert(true))
	return err
}

func (d *deviceConfigStore) LoadDeviceConfig(ctx context.Context) ([]byte, bool, error) {
	s := (*Store)(d)
	var doc deviceConfigDoc
	err := s.col("device_config").FindOne(ctx, bson.M{"_id": deviceConfigDocID}).Decode(&doc)
	if err == mongo.ErrNoDocuments || len(doc.Sealed) == 0 {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc.Sealed, true, nil
}

type contactDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username"`
	Props    []byte `bson:"props"`
}

func contactDocOf(rec storage.ContactRecord) contactDoc {
	return contactDoc{ID: rec.ID.String(), Username: rec.Username, Props: rec.Props}
}

func (c contactDoc) record() (storage.ContactRecord, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return storage.ContactRecord{}, err
	}
	return storage.ContactRecord{Record: storage.Record{ID: id, Props: c.Props}, Username: c.Username}, nil
}

type contactStore Store

func (cs *contactStore) PutContact(ctx context.Context, rec storage.ContactRecord) error {
	s := (*Store)(cs)
	_, err := s.col("contacts").ReplaceOne(ctx, bson.M{"_id": rec.ID.String()}, contactDocOf(rec),
		options.Replace().SetUpsert(true))
	return err
}

func (cs *contactStore) GetContact(ctx context.Context, id uuid.UUID) (storage.ContactRecord, bool, error) {
	s := (*Store)(cs)
	var doc contactDoc
	err := s.col("contacts").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.ContactRecord{}, false, nil
	}
	if err != nil {
		return storage.ContactRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (cs *contactStore) GetContactByUsername(ctx context.Context, username string) (storage.ContactRecord, bool, error) {
	s := (*Store)(cs)
	var doc contactDoc
	err := s.col("contacts").FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.ContactRecord{}, false, nil
	}
	if err != nil {
		return storage.ContactRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (cs *contactStore) DeleteContact(ctx context.Context, id uuid.UUID) error {
	s := (*Store)(cs)
	_, err := s.col("contacts").DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

type conversationDoc struct {
	ID    string `bson:"_id"`
	Props []byte `bson:"props"`
}

type conversationStore Store

func (cs *conversationStore) PutConversation(ctx context.Context, rec storage.ConversationRecord) error {
	s := (*Store)(cs)
	_, err := s.col("conversations").ReplaceOne(ctx, bson.M{"_id": rec.ID.String()},
		conversationDoc{ID: rec.ID.String(), Props: rec.Props}, options.Replace().SetUpsert(true))
	return err
}

func (cs *conversationStore) GetConversation(ctx context.Context, id uuid.UUID) (storage.ConversationRecord, bool, error) {
	s := (*Store)(cs)
	var doc conversationDoc
	err := s.col("conversations").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.ConversationRecord{}, false, nil
	}
	if err != nil {
		return storage.ConversationRecord{}, false, err
	}
	return storage.ConversationRecord{Record: storage.Record{ID: id, Props: doc.Props}}, true, nil
}

type deviceIdentityDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username"`
	DeviceID string `bson:"device_id"`
	Props    []byte `bson:"props"`
}

func (d deviceIdentityDoc) record() (storage.DeviceIdentityRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return storage.DeviceIdentityRecord{}, err
	}
	devID, err := uuid.Parse(d.DeviceID)
	if err != nil {
		return storage.DeviceIdentityRecord{}, err
	}
	return storage.DeviceIdentityRecord{
		Record:   storage.Record{ID: id, Props: d.Props},
		Username: d.Username,
		DeviceID: devID,
	}, nil
}

type deviceIdentityStore Store

func (ds *deviceIdentityStore) PutDeviceIdentity(ctx context.Context, rec storage.DeviceIdentityRecord) error {
	s := (*Store)(ds)
	doc := deviceIdentityDoc{ID: rec.ID.String(), Username: rec.Username, DeviceID: rec.DeviceID.String(), Props: rec.Props}
	_, err := s.col("device_identities").ReplaceOne(ctx, bson.M{"_id": rec.ID.String()}, doc, options.Replace().SetUpsert(true))
	return err
}

func (ds *deviceIdentityStore) GetDeviceIdentity(ctx context.Context, id uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s := (*Store)(ds)
	var doc deviceIdentityDoc
	err := s.col("device_identities").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.DeviceIdentityRecord{}, false, nil
	}
	if err != nil {
		return storage.DeviceIdentityRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (ds *deviceIdentityStore) GetDeviceIdentityByDeviceID(ctx context.Context, username string, deviceID uuid.UUID) (storage.DeviceIdentityRecord, bool, error) {
	s := (*Store)(ds)
	var doc deviceIdentityDoc
	err := s.col("device_identities").FindOne(ctx, bson.M{"username": username, "device_id": deviceID.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.DeviceIdentityRecord{}, false, nil
	}
	if err != nil {
		return storage.DeviceIdentityRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (ds *deviceIdentityStore) ListDeviceIdentitiesByUsername(ctx context.Context, username string) ([]storage.DeviceIdentityRecord, error) {
	s := (*Store)(ds)
	cur, err := s.col("device_identities").Find(ctx, bson.M{"username": username})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.DeviceIdentityRecord
	for cur.Next(ctx) {
		var doc deviceIdentityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}

type chatMessageDoc struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	RemoteID       string `bson:"remote_id"`
	Order          int    `bson:"order"`
	SenderID       int64  `bson:"sender_id"`
	Props          []byte `bson:"props"`
}

func (c chatMessageDoc) record() (storage.ChatMessageRecord, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return storage.ChatMessageRecord{}, err
	}
	convID, err := uuid.Parse(c.ConversationID)
	if err != nil {
		return storage.ChatMessageRecord{}, err
	}
	return storage.ChatMessageRecord{
		Record:         storage.Record{ID: id, Props: c.Props},
		ConversationID: convID,
		RemoteID:       c.RemoteID,
		Order:          c.Order,
		SenderID:       c.SenderID,
	}, nil
}

type chatMessageStore Store

func (cs *chatMessageStore) PutChatMessage(ctx context.Context, rec storage.ChatMessageRecord) error {
	s := (*Store)(cs)
	doc := chatMessageDoc{
		ID: rec.ID.String(), ConversationID: rec.ConversationID.String(),
		RemoteID: rec.RemoteID, Order: rec.Order, SenderID: rec.SenderID, Props: rec.Props,
	}
	_, err := s.col("chat_messages").ReplaceOne(ctx, bson.M{"_id": rec.ID.String()}, doc, options.Replace().SetUpsert(true))
	return err
}

func (cs *chatMessageStore) GetChatMessage(ctx context.Context, id uuid.UUID) (storage.ChatMessageRecord, bool, error) {
	s := (*Store)(cs)
	var doc chatMessageDoc
	err := s.col("chat_messages").FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.ChatMessageRecord{}, false, nil
	}
	if err != nil {
		return storage.ChatMessageRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (cs *chatMessageStore) GetChatMessageByRemoteID(ctx context.Context, remoteID string) (storage.ChatMessageRecord, bool, error) {
	s := (*Store)(cs)
	var doc chatMessageDoc
	err := s.col("chat_messages").FindOne(ctx, bson.M{"remote_id": remoteID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return storage.ChatMessageRecord{}, false, nil
	}
	if err != nil {
		return storage.ChatMessageRecord{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

func (cs *chatMessageStore) ListChatMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]storage.ChatMessageRecord, error) {
	s := (*Store)(cs)
	cur, err := s.col("chat_messages").Find(ctx, bson.M{"conversation_id": conversationID.String()},
		options.Find().SetSort(bson.D{{Key: "order", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.ChatMessageRecord
	for cur.Next(ctx) {
		var doc chatMessageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}

type jobDoc struct {
	ID          string    `bson:"_id"`
	ScheduledAt time.Time `bson:"scheduled_at"`
	Props       []byte    `bson:"props"`
}

type jobStore Store

func (js *jobStore) PutJob(ctx context.Context, rec storage.JobRecord) error {
	s := (*Store)(js)
	doc := jobDoc{ID: rec.ID.String(), ScheduledAt: rec.ScheduledAt, Props: rec.Props}
	_, err := s.col("jobs").ReplaceOne(ctx, bson.M{"_id": rec.ID.String()}, doc, options.Replace().SetUpsert(true))
	return err
}

func (js *jobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s := (*Store)(js)
	_, err := s.col("jobs").DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

func (js *jobStore) ListJobs(ctx context.Context) ([]storage.JobRecord, error) {
	s := (*Store)(js)
	cur, err := s.col("jobs").Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.JobRecord
	for cur.Next(ctx) {
		var doc jobDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.JobRecord{Record: storage.Record{ID: id, Props: doc.Props}, ScheduledAt: doc.ScheduledAt})
	}
	return out, cur.Err()
}
