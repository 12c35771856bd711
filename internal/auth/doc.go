// Package auth verifies the optional bearer tokens that protect the Thing
// API.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles:
// viewer (read everything), operator (also write properties and request
// actions) and admin (also cancel actions). The role to permission mapping
// is static and lives in permissions.go.
//
// Tokens are issued out of band with `webthingd token`; the server only
// verifies them.
package auth
