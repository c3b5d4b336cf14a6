// Package domain defines the core types for the school restriction cache:
// students, restriction profiles, schedule rules, teaching sessions, and the
// change events that keep the cache synchronized with Postgres.
//
// Types in this package are pure value objects with no behavior beyond small
// pure predicates, no database dependencies, and no HTTP concerns. They are
// the shared language between the cache engine, the tracker, the repository,
// and the HTTP layer.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
