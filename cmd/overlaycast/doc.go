// Command overlaycast runs the livestream overlay relay and its operator tools.
//
// `overlaycast run` starts the relay in the foreground. The remaining commands
// inspect configuration and dependencies, query a running relay over its
// control-plane API, and manage overlay data in the donations store.
package main
