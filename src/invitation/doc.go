// Package invitation implements the handshake that admits a new peer into a
// party.
//
// The inviter runs a Greeter: it creates a Descriptor, shares it as a token,
// and serves the handshake on the descriptor's swarm topic. The invitee runs a
// Claimer with the decoded descriptor. The Claimer introduces itself,
// authenticates, with a shared secret for interactive invitations or by
// signing the nonce with the identity key bound to an offline invitation,
// accepts the party details and asks to be admitted. The Greeter then writes
// the credentials that admit the invitee's identity and feeds.
//
//	Claimer                       Greeter
//	   |------ introduce ---------->|
//	   |------ authenticate ------->|  (at most MaxSecretAttempts)
//	   |------ accept ------------->|
//	   |------ admit -------------->|  writes PartyMember, AdmittedFeed x2
//
// An invitation admits at most one peer.
package invitation
