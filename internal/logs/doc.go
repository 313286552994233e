// Package logs reads the per-run log files written by `overlaycast run`.
//
// Tail prints the last lines of a log and, when following, keeps polling for
// appended lines. The overlaycast.log pointer is replaced at every start, so a
// follower notices when the path begins to resolve to a different file and
// starts over from the top of the new run.
package logs
