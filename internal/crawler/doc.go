// Package crawler walks filesystem roots in parallel and streams one
// store.Record per file and directory.
//
// Each root is walked depth-first by a single goroutine; roots run
// concurrently on a bounded errgroup. Directory sizes are the sum of all
// descendant file sizes and are emitted after the directory's subtree has
// been visited. Restricted subtrees and unreadable entries are reported as
// skip entries instead of failing the crawl.
package crawler
