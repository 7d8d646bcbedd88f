// Package database provides connection management, catalog introspection,
// native error classification, configuration types, query hooks, logging
// and health checks built on top of Bun.
package database
