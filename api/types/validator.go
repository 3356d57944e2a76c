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

import (
	"github.com/go-playground/validator/v10"
)

var defaultValidator = validator.New()

// validateStruct is a shortcut of defaultValidator.Struct.
func validateStruct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// Validate checks the action input against its field constraints.
func (i *ActionInput) Validate() error {
	return validateStruct(i)
}
