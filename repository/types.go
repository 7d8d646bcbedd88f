/*
 * Copyright 2025 tomoncle.
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

package repository

import (
	"context"

	"github.com/tomoncle/tabula/filter"
	"github.com/tomoncle/tabula/table"
	"github.com/tomoncle/tabula/types"
	"github.com/uptrace/bun"
)

// Options tunes a single repository call. A nil *Options behaves like the
// zero value.
type Options struct {
	// Select is the returned column set, every column by default.
	Select filter.Projection
	// OrderBy entries are "column" or "column ASC|DESC".
	OrderBy []string
	Limit   int
	Offset  int
	// Tx runs the call inside the caller's transaction.
	Tx *bun.Tx
	// ThrowIfNoResult turns an empty result into NotCreated, NotFound,
	// NotUpdated or NotDeleted.
	ThrowIfNoResult bool
	// IgnoreQueryError returns an empty result instead of the error. The
	// failure is still logged. NotConnected is never ignored.
	IgnoreQueryError bool
}

func (o *Options) orDefault() *Options {
	if o == nil {
		return &Options{}
	}
	return o
}

// CrudRepository defines the row-level operations on one table.
type CrudRepository interface {
	Insert(ctx context.Context, rows []types.Row, opts *Options) ([]types.Row, error)
	InsertOne(ctx context.Context, row types.Row, opts *Options) (types.Row, error)
	Find(ctx context.Context, f filter.Filter, opts *Options) ([]types.Row, error)
	// FindOne returns the first matching row, or nil when there is none.
	FindOne(ctx context.Context, f filter.Filter, opts *Options) (types.Row, error)
	Update(ctx context.Context, data types.Row, f filter.Filter, opts *Options) ([]types.Row, error)
	Delete(ctx context.Context, f filter.Filter, opts *Options) ([]types.Row, error)
	Count(ctx context.Context, f filter.Filter, opts *Options) (int, error)
}

// PageQueryRepository defines pagination over filtered rows.
type PageQueryRepository interface {
	Page(ctx context.Context, f filter.Filter, page *types.PageRequest, opts *Options) (*types.Pagination, error)
}

// Repository is the data access surface bound to one table.
type Repository interface {
	CrudRepository
	PageQueryRepository
	Table() *table.Table
}
