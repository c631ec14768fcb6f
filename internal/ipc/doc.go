// Package ipc exposes daemon control over JSON-RPC on a Unix domain
// socket: status, rescan, cache inspection, and shutdown.
package ipc
