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

// Package pipeline turns a streamed table into a document at a remote
// destination: it plans cell edits, splits them into size-bounded batches
// and applies every batch under retry.
package pipeline

import (
	"context"
	"regexp"
	"strings"
)

// BatchKind identifies which stage of the document build a batch belongs to.
type BatchKind int

const (
	// KindStructure sets up the page and inserts the empty table.
	KindStructure BatchKind = iota
	// KindCells inserts cell text.
	KindCells
	// KindPostProcess pins and styles the finished table.
	KindPostProcess
)

func (k BatchKind) String() string {
	switch k {
	case KindStructure:
		return "structure"
	case KindCells:
		return "cells"
	case KindPostProcess:
		return "post_process"
	default:
		return "unknown"
	}
}

// Batch is one logical remote mutation.
type Batch struct {
	Kind BatchKind

	// Plan describes the whole table. Structure and post-processing
	// batches are derived from it.
	Plan *Plan

	// Edits holds the cell edits of a KindCells batch.
	Edits []CellEdit

	// Seq is the 1-based position of a KindCells batch; Total is the count.
	Seq   int
	Total int
}

// DocumentSpec describes the document to create.
type DocumentSpec struct {
	// Name is the sanitized document name.
	Name string

	// Container is the resolved parent folder, if the destination has one.
	Container string

	// Params carries destination-specific form values.
	Params map[string]string
}

// Destination is a remote document store.
type Destination interface {
	// Name identifies the destination in logs and metrics.
	Name() string

	// Scopes returns the OAuth scopes the destination needs.
	Scopes() []string

	// Addressing reports how the destination locates table cells.
	Addressing() Addressing

	// Create makes an empty document and returns its ID.
	Create(ctx context.Context, spec DocumentSpec) (string, error)

	// Apply performs one batch as a single remote call.
	Apply(ctx context.Context, documentID string, batch Batch) error
}

// Finalizer is implemented by destinations that buffer batches locally and
// publish the document once every batch has been applied.
type Finalizer interface {
	Finalize(ctx context.Context, documentID string, plan *Plan) error
}

// RootContainer is the provider's root folder alias.
const RootContainer = "root"

var folderIDPattern = regexp.MustCompile(`/folders/([^/?]+)`)

// ResolveContainer picks the parent folder for a new document. A folder
// URL wins: a "my-drive" URL resolves to the root, a "/folders/<id>" URL
// resolves to that id, and anything else falls back to the root. Without a
// URL the plain folder field is used as given.
func ResolveContainer(folderURL, folder string) string {
	if folderURL == "" {
		return folder
	}
	if strings.Contains(folderURL, "my-drive") {
		return RootContainer
	}
	if m := folderIDPattern.FindStringSubmatch(folderURL); m != nil {
		return m[1]
	}
	return RootContainer
}
