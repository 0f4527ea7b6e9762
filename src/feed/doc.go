// Package feed implements the append-only, signed logs that carry party data.
//
// Every party is made of several feeds, one per writer and designation. A feed
// is identified by a public key; each Message appended to it is signed by the
// matching private key and numbered from 0 without gaps. Messages written
// locally go through Feed.Append; messages received from other peers go
// through Adapter.Insert, which checks the signature and refuses gaps.
//
// The Adapter is the only component that touches the underlying store, which
// is a storage.Store (Badger on disk, or in memory).
package feed
