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

package effects

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig is the configuration for the object-store executor.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"Endpoint"`
	AccessKey string `yaml:"AccessKey"`
	SecretKey string `yaml:"SecretKey"`
	Bucket    string `yaml:"Bucket"`
	UseSSL    bool   `yaml:"UseSSL"`
}

// ObjectStore executes file effects against an S3-compatible object store.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore dials the object store of the given configuration.
func NewObjectStore(conf *ObjectStoreConfig) (*ObjectStore, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("dial object store: %w", err)
	}

	return &ObjectStore{
		client: client,
		bucket: conf.Bucket,
	}, nil
}

// Execute performs one effect against the object store.
func (s *ObjectStore) Execute(ctx context.Context, effect Effect) error {
	key := effect.ResourceID.String()

	switch effect.Op {
	case OpCreate:
		if _, err := s.client.PutObject(
			ctx,
			s.bucket,
			key,
			bytes.NewReader(effect.Payload),
			int64(len(effect.Payload)),
			minio.PutObjectOptions{},
		); err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	case OpDelete:
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", key, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown effect op: %q", effect.Op)
	}
}
