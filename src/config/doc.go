// Package config defines the configuration of an ECHO instance.
//
// Regardless of how ECHO is started, directly from Go code or as a standalone
// process from the command line, it uses the Config object defined in this
// package to store and forward configuration options. On top of these
// configuration options, ECHO relies on a data directory, defined by
// Config.DataDir, where it looks for a few additional files:
//
//  priv_key // (optional) a plain text file containing the identity's private key (cf. echo keygen).
//  peers.json // a JSON file containing the peers learned so far; maintained by the node.
//  cert.pem // (optional) an x509 certificate for the WAMP signaling server.
//  echo.toml // (optional) configuration file read by the CLI.
package config
