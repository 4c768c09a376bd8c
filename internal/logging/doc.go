// Package logging configures structured slog output for amanfind.
//
// Records are written as JSON to a size-rotated file under ~/.amanfind/logs/
// and, unless disabled, mirrored to stderr. Event names are snake_case
// (crawl_started, swap_completed) with attributes carried as slog fields.
package logging
