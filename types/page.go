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

package types

// PageRequest describes a 1-based page of rows.
type PageRequest struct {
	page     int
	pageSize int
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = 10
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// NewPageRequest constructs a PageRequest; out-of-range values fall back to
// page 1 and a page size of 10.
func NewPageRequest(page int, pageSize int) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize}
}

// Pagination holds one page of rows along with the total match count.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int   `json:"total"`
	Items    []Row `json:"items"`
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination(page int, pageSize int) *Pagination {
	return &Pagination{Page: page, PageSize: pageSize, Items: make([]Row, 0)}
}
