// Package demo builds the sample Things served by webthingd: a dimmable
// lamp with a fade action and an overheated event, and a humidity sensor
// whose read-only level is refreshed by a background loop.
package demo
