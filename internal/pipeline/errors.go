// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/tombee/docrelay/internal/table"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

// ErrNoData is returned when the input holds no rows.
var ErrNoData = table.ErrNoData

// PartialWriteError reports a failure after the document was created.
// Nothing is rolled back, so the document may be incomplete.
type PartialWriteError struct {
	DocumentID string
	Stage      string
	Cause      error
}

// Error implements the error interface.
func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s failed, document %s may be incomplete: %v", e.Stage, e.DocumentID, e.Cause)
}

// Unwrap returns the stage failure.
func (e *PartialWriteError) Unwrap() error {
	return e.Cause
}

// IncompleteNote is appended to user-facing messages for partial writes.
const IncompleteNote = "(the document may be incomplete)"

// UserMessage implements errors.UserVisibleError. A vendor message in the
// cause is preferred over the full error chain.
func (e *PartialWriteError) UserMessage() string {
	msg := fmt.Sprint(e.Cause)
	var visible relayerrors.UserVisibleError
	if errors.As(e.Cause, &visible) {
		msg = visible.UserMessage()
	}
	return msg + " " + IncompleteNote
}
