// Package realtime delivers security events to live browser connections
// over websockets.
//
// # Room hierarchy
//
// Rooms nest user > device > session > tab. A connection joins its own tab
// room and every ancestor at connect time; memberships never change
// afterwards. Down-direction events deliver to everyone inside the emitting
// scope, up-direction events to listeners at the scopes above the source,
// excluding the originating tab.
//
// # Offline delivery
//
// Events published while a user has no live connection are parked in a
// capped Redis list and drained exactly once by the next connection.
package realtime
