// Package realtime hosts the websocket side of relay: a registry of
// per-thread rooms and the gateway that admits connections into them.
package realtime
