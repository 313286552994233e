// Package services defines shared utilities consumed by the relay stages and
// the control plane.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, streaming attempts, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which maps a
//     stage failure to the relay's reaction (retry, drop the frame, or stop).
//
// Use these helpers when wiring new stage logic so failure handling and
// observability stay uniform across the pipeline.
package services
