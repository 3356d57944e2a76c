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

package backend

import (
	"fmt"
	"time"
)

// Config is the configuration for creating a Backend instance.
type Config struct {
	// AdminUser is the username of the default admin user created on
	// first run. Default is "admin".
	AdminUser string `yaml:"AdminUser"`

	// ClaimRequiresPending restricts claiming a revision for review to
	// revisions still in PENDING. When false a moderator may take over a
	// revision already claimed by someone else.
	ClaimRequiresPending bool `yaml:"ClaimRequiresPending"`

	// ActorCacheSize is the cache size of resolved actors.
	ActorCacheSize int `yaml:"ActorCacheSize"`

	// ActorCacheTTL is the TTL value to set when caching a resolved actor.
	ActorCacheTTL string `yaml:"ActorCacheTTL"`

	// Hostname is the server hostname. Used by metrics.
	Hostname string `yaml:"Hostname"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.ActorCacheTTL); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--actor-cache-ttl" flag: %w`,
			c.ActorCacheTTL,
			err,
		)
	}

	return nil
}

// ParseActorCacheTTL returns the actor cache TTL duration.
func (c *Config) ParseActorCacheTTL() time.Duration {
	ttl, err := time.ParseDuration(c.ActorCacheTTL)
	if err != nil {
		panic(err)
	}
	return ttl
}
