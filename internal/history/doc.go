// Package history records Thing notifications in SQLite so clients can ask
// what happened while they were not connected.
//
// A Recorder attaches one sink subscriber to every Thing, converts each
// propertyStatus, actionStatus and event message into an Entry and writes
// it through a Repository. Entries older than the configured retention are
// pruned periodically.
//
// The sink subscriber never blocks the Things: if the database falls
// behind, notifications are discarded and counted rather than delaying
// property writes.
package history
