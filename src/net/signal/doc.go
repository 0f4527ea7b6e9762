// Package signal defines how peers exchange WebRTC session descriptions before
// they can open a direct connection. The wamp subpackage implements it over a
// WAMP router, which also serves as the rendezvous point for invitations.
package signal
