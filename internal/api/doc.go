// Package api serves Things over HTTP and WebSocket.
//
// In multiple mode every Thing in the registry is served under
// /things/{thing}, where {thing} is its index or id; in single mode the one
// Thing is served at the root. Each Thing exposes:
//
//	GET    /                              Thing Description (WebSocket upgrade on the same path)
//	GET    /properties                    all property values
//	GET    /properties/{property}         {name: value}
//	PUT    /properties/{property}         set from {name: value}
//	GET    /actions                       all action records
//	POST   /actions                       request {name: {"input": ...}}
//	GET    /actions/{action}              records for one action
//	POST   /actions/{action}              request one action
//	GET    /actions/{action}/{actionID}   one record
//	PUT    /actions/{action}/{actionID}   acknowledge
//	DELETE /actions/{action}/{actionID}   cancel and remove
//	GET    /events                        retained events
//	GET    /events/{event}                retained events for one name
//	GET    /history                       persisted notifications
//
// /health and /metrics sit outside authentication. Requests whose Host
// header is not on the allow-list are refused with 403.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
