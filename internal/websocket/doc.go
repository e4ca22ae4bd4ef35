// Package websocket pushes license state changes to connected UI clients.
// A Hub owns the client set; Handler upgrades /ws requests and registers
// clients with it.
package websocket
