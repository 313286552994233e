// Package overlay owns the last-known-good overlay state (donor ranking,
// alerts, payment link) that the compositor draws on every frame.
//
// Store swaps immutable *State snapshots through an atomic pointer, so the
// frame path never waits on a refresh. Refresher pulls snapshots from a
// SnapshotProvider on a fixed interval; an Update only replaces the fields it
// marks present, which keeps a failed or partial read from erasing state.
// Seed files (YAML) bootstrap the store and the donations database.
package overlay
