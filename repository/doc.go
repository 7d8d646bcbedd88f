// Package repository provides the generic per-table CRUD engine built on
// Bun: filtered reads with projection, ordering and pagination, insert,
// update and delete returning the affected rows, transaction passthrough
// and the no-result and fail-soft policies.
package repository
