// Package keyring holds the key pairs of an ECHO instance.
//
// Every party, feed, device and identity is named by a secp256k1 public key.
// The Keyring creates those keys, persists them in a storage.Store, and signs
// payloads on behalf of the keys it holds. The IdentityManager sits on top of
// the Keyring and owns the local identity and device keys; its lifetime is
// tied to the ECHO instance that creates it.
package keyring
