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

package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aozora-team/aozora/server"
)

func TestNewConfigFromFile(t *testing.T) {
	t.Run("fail read config file test", func(t *testing.T) {
		conf := server.NewConfig()
		_, err := server.NewConfigFromFile("nowhere.yml")
		assert.Error(t, err)

		assert.Equal(t, conf.Profiling.Port, server.DefaultProfilingPort)
		assert.Equal(t, conf.Backend.AdminUser, server.DefaultAdminUser)
		assert.Equal(t, conf.Backend.ActorCacheSize, server.DefaultActorCacheSize)
		assert.Nil(t, conf.Mongo)
		assert.Nil(t, conf.ObjectStore)
	})

	t.Run("read config file test", func(t *testing.T) {
		conf, err := server.NewConfigFromFile("config.sample.yml")
		assert.NoError(t, err)
		assert.NoError(t, conf.Validate())

		assert.Equal(t, conf.Profiling.Port, server.DefaultProfilingPort)
		assert.False(t, conf.Profiling.EnablePprof)

		assert.Equal(t, conf.Backend.AdminUser, server.DefaultAdminUser)
		assert.False(t, conf.Backend.ClaimRequiresPending)
		assert.Equal(t, conf.Backend.ActorCacheSize, server.DefaultActorCacheSize)
		actorCacheTTL, err := time.ParseDuration(conf.Backend.ActorCacheTTL)
		assert.NoError(t, err)
		assert.Equal(t, actorCacheTTL, server.DefaultActorCacheTTL)

		assert.Equal(t, conf.Mongo.ConnectionURI, server.DefaultMongoConnectionURI)
		assert.Equal(t, conf.Mongo.AozoraDatabase, server.DefaultMongoAozoraDatabase)
		connTimeout, err := time.ParseDuration(conf.Mongo.ConnectionTimeout)
		assert.NoError(t, err)
		assert.Equal(t, connTimeout, server.DefaultMongoConnectionTimeout)
		pingTimeout, err := time.ParseDuration(conf.Mongo.PingTimeout)
		assert.NoError(t, err)
		assert.Equal(t, pingTimeout, server.DefaultMongoPingTimeout)

		assert.Nil(t, conf.ObjectStore)
	})

	t.Run("absent sections get defaults test", func(t *testing.T) {
		conf := server.NewConfig()
		assert.NoError(t, conf.Validate())
		assert.Equal(t, conf.Backend.ActorCacheTTL, server.DefaultActorCacheTTL.String())
		assert.Equal(t, conf.Backend.ParseActorCacheTTL(), server.DefaultActorCacheTTL)
	})
}
