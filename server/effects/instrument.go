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

import "context"

// instrumented decorates an executor with an observation callback.
type instrumented struct {
	executor Executor
	observe  func(op string, succeeded bool)
}

// Instrument wraps the given executor so every executed effect is reported
// to observe, e.g. for metrics.
func Instrument(executor Executor, observe func(op string, succeeded bool)) Executor {
	return &instrumented{executor: executor, observe: observe}
}

func (i *instrumented) Execute(ctx context.Context, effect Effect) error {
	err := i.executor.Execute(ctx, effect)
	i.observe(string(effect.Op), err == nil)
	return err
}
