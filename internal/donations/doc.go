// Package donations persists the data behind the overlay: donors, the top-10
// ranking, timed alerts and the single payment link.
//
// The store runs on SQLite by default and on Postgres when a DSN is
// configured. It implements overlay.SnapshotProvider; a snapshot is read in
// one transaction so the overlay never mixes two ranking generations.
package donations
