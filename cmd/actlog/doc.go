// Command actlog runs the activity log daemon and inspects persisted
// activity.
//
// Commands that read activity talk to a running daemon over its HTTP API and
// fall back to opening the store directly when the daemon is not reachable.
package main
