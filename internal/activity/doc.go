// Package activity defines the activity record written by actlog: the loosely
// typed Options accepted from callers, the normalized Record persisted by the
// storage backends, and the Action and ResourceType enumerations.
package activity
