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

package types

// Actor roles recognized by permission guards.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
)

// Actor is the identity on whose behalf an operation runs. It is supplied
// by the authentication layer; the core only reads it for authorship and
// permission checks.
type Actor struct {
	// ID is the unique identifier of the acting user.
	ID ID `json:"id"`

	// Username is the display name of the acting user.
	Username string `json:"username"`

	// Roles are the roles granted to the acting user.
	Roles []string `json:"roles"`
}

// HasRole returns true if the actor carries the given role.
func (a *Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin returns true if the actor carries the admin role.
func (a *Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// IsModerator returns true if the actor carries the moderator or admin role.
func (a *Actor) IsModerator() bool {
	return a.HasRole(RoleModerator) || a.HasRole(RoleAdmin)
}
