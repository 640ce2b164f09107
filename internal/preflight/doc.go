// Package preflight provides readiness checks for the directories, storage
// files and daemon endpoint that actlog depends on.
//
// The daemon runs RunAll at startup and logs failing checks; the CLI
// "actlog health" command prints every result.
package preflight
