// Package capability defines the game-facing surface an agent drives.
//
// A Dialer opens one Session per connection attempt. The Session exposes
// position, vitals, inventory and perception queries, blocking actions that
// suspend until the server reports completion, and a typed event channel
// (spawned, disconnected, kicked, protocol error, heartbeat). Nothing is
// delivered after the terminal disconnected or kicked event; the channel is
// never closed, so consumers stop reading once they see one.
//
// Implementations live in subpackages: wscap speaks the voxel world
// websocket protocol, captest is an in-memory scripted world for tests.
package capability
