// Package journal persists published inference packets to SQLite so the
// history command can show what the camera reported recently.
//
// The store opens in WAL mode with a busy timeout and retries SQLITE_BUSY
// with bounded backoff. Rows beyond the configured maximum are pruned oldest
// first after each insert.
package journal
