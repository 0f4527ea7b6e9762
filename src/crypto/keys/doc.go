// Package keys implements the public key cryptography used throughout ECHO.
//
// Identities, devices, parties and feeds are all named by an ECDSA public key
// on the secp256k1 curve. Public keys travel as the 0X-prefixed hexadecimal
// form of their uncompressed encoding, and signatures as the base-36 "r|s"
// string produced by EncodeSignature. Feed messages and credentials are signed
// over the SHA256 hash of their canonical encoding with SignPayload.
package keys
