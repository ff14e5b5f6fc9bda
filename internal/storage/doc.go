// Package storage defines the stores the tracker reads and writes and ships
// the in-process and file-backed implementations.
//
// Regions, project records, the change log and the rotation cursor are kept
// behind small interfaces. Memory keeps everything in process, FileStore keeps
// JSON snapshot files plus an append-only changes.jsonl under a data
// directory (by default ~/.local/share/dpwh-projects/), and DryRun layers an
// in-memory overlay over another store so a scrape can run without writing.
// SQL and Redis implementations live in the sqlstore and redisstore
// subpackages.
package storage
