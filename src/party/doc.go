// Package party creates, joins, opens and closes parties.
//
// A Party is one replicated dataset: a genesis control feed, the control and
// data feeds of every admitted device, and the Pipeline that merges them into
// the party's credentials state and items. The Factory builds parties and
// writes the credentials of a new party. The Manager keeps track of every
// party known to the local instance, persists their metadata so that they are
// reopened after a restart, and runs the invitee side of the invitation
// handshake when joining a party.
//
// A Party moves through the states
//
//	Closed -> Opening -> Open -> Closing -> Closed
//
// Only an Open party accepts writes and invitations.
package party
