// Package table holds the immutable metadata of an introspected table and
// the opt-in pulse that publishes CRUD notifications for it.
package table
