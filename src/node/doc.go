// Package node implements the replication node of an ECHO peer.
//
// A Node copies the feeds of the parties it tracks to and from other nodes.
// Parties are tracked while they are open; the party package calls Track and
// Untrack through its Replicator interface. Nothing else about parties is
// known to the node: it moves signed feed messages, and the receiving peer's
// feed adapter verifies signatures and sequence numbers before storing them.
//
// Gossip
//
// Nodes gossip by repeatedly choosing another node at random and telling each
// other how much of every tracked party they hold. This is expressed as a
// Timeframe per party: the highest sequence number stored for each feed. The
// communication mechanism is a custom RPC protocol over a network transport as
// defined in the net package. It implements a Pull-Push gossip system which
// relies on two RPC commands: Sync and EagerSync. When node A wants to sync
// with node B, it sends a SyncRequest to B containing its Timeframes. B
// returns a SyncResponse with the feed messages A is missing, for the parties
// that both nodes track, and its own Timeframes. A stores the messages, then
// sends an EagerSyncRequest to B with the messages that B is missing. The
// number of messages in a single response or push is capped by SyncLimit; the
// rest follows in later rounds.
//
// The gossip timer runs at the HeartbeatTimeout frequency while feeds are being
// written to, and slows down to SlowHeartbeatTimeout when there is nothing new.
//
// Peers
//
// Peers are learned from the invitation handshake (the party package passes
// them to AddPeer), from incoming requests, and through Join. A node that
// starts with known peers enters the Joining state: it sends a JoinRequest to
// one of them, introducing itself and the peers it knows, and adds the peers
// returned in the JoinResponse. It then enters the Gossiping state.
package node
