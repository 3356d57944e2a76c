/*
 * Copyright 2025 The Aozora Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mongo implements the database interface using MongoDB. Multi
// document transactions require a replica set deployment.
package mongo

import (
	"context"
	"errors"
	"fmt"
	gotime "time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/database"
)

const (
	colEntities  = "entities"
	colRevisions = "revisions"
)

// Client is a client that connects to MongoDB and reads or saves catalog
// data.
type Client struct {
	config *Config
	client *mongo.Client
	db     *mongo.Database
}

// Dial creates an instance of Client and dials the given MongoDB.
func Dial(conf *Config) (*Client, error) {
	connTimeout, err := conf.ParseConnectionTimeout()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	// Embedded documents must decode as maps so stored snapshots round-trip
	// through the document engine.
	client, err := mongo.Connect(options.Client().
		ApplyURI(conf.ConnectionURI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingTimeout, err := conf.ParsePingTimeout()
	if err != nil {
		return nil, err
	}
	ctxPing, cancelPing := context.WithTimeout(ctx, pingTimeout)
	defer cancelPing()

	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(conf.AozoraDatabase)
	if err := ensureIndexes(ctx, db); err != nil {
		return nil, err
	}

	return &Client{
		config: conf,
		client: client,
		db:     db,
	}, nil
}

// Begin opens a session-backed transaction.
func (c *Client) Begin(ctx context.Context, _ bool) (database.Txn, error) {
	sess, err := c.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	return &Txn{
		db:   c.db,
		sess: sess,
	}, nil
}

// Close all resources of this client.
func (c *Client) Close() error {
	if err := c.client.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("close mongo client: %w", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(colEntities).Indexes().CreateMany(ctx, []mongo.IndexModel{{
		Keys: bson.D{
			{Key: "kind", Value: 1},
			{Key: "natural_key", Value: 1},
		},
	}}); err != nil {
		return fmt.Errorf("create entity indexes: %w", err)
	}

	if _, err := db.Collection(colRevisions).Indexes().CreateMany(ctx, []mongo.IndexModel{{
		Keys: bson.D{
			{Key: "target_kind", Value: 1},
			{Key: "target_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}}); err != nil {
		return fmt.Errorf("create revision indexes: %w", err)
	}

	return nil
}

// Txn is one session-backed transactional scope.
type Txn struct {
	db   *mongo.Database
	sess *mongo.Session
	done bool
}

func (t *Txn) sctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

// Commit commits the transaction and ends the session.
func (t *Txn) Commit() error {
	if t.done {
		return database.ErrTxnDone
	}
	t.done = true

	ctx := context.Background()
	defer t.sess.EndSession(ctx)

	if err := t.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Abort aborts the transaction and ends the session. Aborting after commit
// is a no-op so it can be deferred unconditionally.
func (t *Txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true

	ctx := context.Background()
	defer t.sess.EndSession(ctx)

	if err := t.sess.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("abort transaction: %w", err)
	}
	return nil
}

// FindEntityInfo returns the entity of the given kind and id.
func (t *Txn) FindEntityInfo(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
) (*database.EntityInfo, error) {
	result := t.db.Collection(colEntities).FindOne(t.sctx(ctx), bson.M{
		"_id":  id,
		"kind": kind,
	})

	info := &database.EntityInfo{}
	if err := result.Decode(info); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s %s: %w", kind, id, database.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("decode entity: %w", err)
	}

	return info, nil
}

// EntityExists reports whether an entity of the given kind and id exists.
func (t *Txn) EntityExists(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
) (bool, error) {
	count, err := t.db.Collection(colEntities).CountDocuments(t.sctx(ctx), bson.M{
		"_id":  id,
		"kind": kind,
	})
	if err != nil {
		return false, fmt.Errorf("count entities: %w", err)
	}
	return count > 0, nil
}

// FindEntityInfoByNaturalKey returns the entity of the given kind whose
// natural key matches.
func (t *Txn) FindEntityInfoByNaturalKey(
	ctx context.Context,
	kind types.EntityKind,
	naturalKey string,
) (*database.EntityInfo, error) {
	result := t.db.Collection(colEntities).FindOne(t.sctx(ctx), bson.M{
		"kind":        kind,
		"natural_key": naturalKey,
	})

	info := &database.EntityInfo{}
	if err := result.Decode(info); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s %q: %w", kind, naturalKey, database.ErrEntityNotFound)
		}
		return nil, fmt.Errorf("decode entity: %w", err)
	}

	return info, nil
}

// CreateEntityInfo inserts the given entity.
func (t *Txn) CreateEntityInfo(
	ctx context.Context,
	info *database.EntityInfo,
) (*database.EntityInfo, error) {
	if info.NaturalKey != "" {
		if _, err := t.FindEntityInfoByNaturalKey(ctx, info.Kind, info.NaturalKey); err == nil {
			return nil, fmt.Errorf("%s %q: %w", info.Kind, info.NaturalKey, database.ErrEntityAlreadyExists)
		} else if !errors.Is(err, database.ErrEntityNotFound) {
			return nil, err
		}
	}

	now := gotime.Now()
	stored := info.DeepCopy()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if _, err := t.db.Collection(colEntities).InsertOne(t.sctx(ctx), stored); err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}

	return stored, nil
}

// ApplyEntityChanges applies a change-set to the stored document of the
// given entity.
func (t *Txn) ApplyEntityChanges(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	changes document.Document,
	naturalKey string,
) (*database.EntityInfo, error) {
	info, err := t.FindEntityInfo(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	info.Data = info.Data.Apply(changes)
	info.NaturalKey = naturalKey
	info.UpdatedAt = gotime.Now()

	if _, err := t.db.Collection(colEntities).UpdateOne(t.sctx(ctx), bson.M{
		"_id": id,
	}, bson.M{
		"$set": bson.M{
			"data":        info.Data,
			"natural_key": info.NaturalKey,
			"updated_at":  info.UpdatedAt,
		},
	}); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	return info, nil
}

// SetEntityVerified flips the moderation flag of the given entity.
func (t *Txn) SetEntityVerified(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	verified bool,
) (*database.EntityInfo, error) {
	return t.setEntityFlag(ctx, kind, id, "verified", verified)
}

// SetEntityRemoved flips the soft-delete flag of the given entity.
func (t *Txn) SetEntityRemoved(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	removed bool,
) (*database.EntityInfo, error) {
	return t.setEntityFlag(ctx, kind, id, "removed", removed)
}

func (t *Txn) setEntityFlag(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	field string,
	value bool,
) (*database.EntityInfo, error) {
	info, err := t.FindEntityInfo(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	info.UpdatedAt = gotime.Now()
	switch field {
	case "verified":
		info.Verified = value
	case "removed":
		info.Removed = value
	}

	if _, err := t.db.Collection(colEntities).UpdateOne(t.sctx(ctx), bson.M{
		"_id": id,
	}, bson.M{
		"$set": bson.M{
			field:        value,
			"updated_at": info.UpdatedAt,
		},
	}); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	return info, nil
}

// CreateRevisionInfo inserts the given revision record.
func (t *Txn) CreateRevisionInfo(
	ctx context.Context,
	info *database.RevisionInfo,
) (*database.RevisionInfo, error) {
	now := gotime.Now()
	stored := info.DeepCopy()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Changes = encodeChanges(stored.Changes)
	stored.BeforeChanges = encodeChanges(stored.BeforeChanges)

	if _, err := t.db.Collection(colRevisions).InsertOne(t.sctx(ctx), stored); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}

	result := stored.DeepCopy()
	result.Changes = decodeChanges(result.Changes)
	result.BeforeChanges = decodeChanges(result.BeforeChanges)
	return result, nil
}

// FindRevisionInfo returns the revision of the given id.
func (t *Txn) FindRevisionInfo(
	ctx context.Context,
	id types.ID,
) (*database.RevisionInfo, error) {
	result := t.db.Collection(colRevisions).FindOne(t.sctx(ctx), bson.M{
		"_id": id,
	})

	info := &database.RevisionInfo{}
	if err := result.Decode(info); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", id, database.ErrRevisionNotFound)
		}
		return nil, fmt.Errorf("decode revision: %w", err)
	}

	info.Changes = decodeChanges(info.Changes)
	info.BeforeChanges = decodeChanges(info.BeforeChanges)
	return info, nil
}

// UpdateRevisionInfo replaces the stored revision with the given one.
func (t *Txn) UpdateRevisionInfo(
	ctx context.Context,
	info *database.RevisionInfo,
) error {
	stored := info.DeepCopy()
	stored.UpdatedAt = gotime.Now()
	stored.Changes = encodeChanges(stored.Changes)
	stored.BeforeChanges = encodeChanges(stored.BeforeChanges)

	result, err := t.db.Collection(colRevisions).ReplaceOne(t.sctx(ctx), bson.M{
		"_id": info.ID,
	}, stored)
	if err != nil {
		return fmt.Errorf("update revision: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", info.ID, database.ErrRevisionNotFound)
	}
	return nil
}

// FindRevisionInfosByTarget returns the revisions affecting the given
// entity, oldest first.
func (t *Txn) FindRevisionInfosByTarget(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
) ([]*database.RevisionInfo, error) {
	cursor, err := t.db.Collection(colRevisions).Find(t.sctx(ctx), bson.M{
		"target_kind": kind,
		"target_id":   id,
	}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find revisions by target: %w", err)
	}

	var infos []*database.RevisionInfo
	if err := cursor.All(t.sctx(ctx), &infos); err != nil {
		return nil, fmt.Errorf("decode revisions: %w", err)
	}

	for _, info := range infos {
		info.Changes = decodeChanges(info.Changes)
		info.BeforeChanges = decodeChanges(info.BeforeChanges)
	}
	return infos, nil
}

// DeleteRevisionInfo removes a revision record.
func (t *Txn) DeleteRevisionInfo(
	ctx context.Context,
	id types.ID,
) error {
	result, err := t.db.Collection(colRevisions).DeleteOne(t.sctx(ctx), bson.M{
		"_id": id,
	})
	if err != nil {
		return fmt.Errorf("delete revision: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", id, database.ErrRevisionNotFound)
	}
	return nil
}
