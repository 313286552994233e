// Package preflight provides readiness checks for the tools, directories and
// services overlaycast depends on.
//
// These checks run in two contexts:
//   - The run command calls RunAll before starting the relay and refuses to
//     start when a required check fails.
//   - The "overlaycast deps" command and the /api/status endpoint use the
//     same results to display health.
package preflight
