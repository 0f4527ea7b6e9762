// Package echo assembles a complete ECHO database instance.
//
// An Echo owns the keyring and identity, the feed store, the snapshot store,
// the party manager, the replication node with its transport, the rendezvous
// network used by invitations, and the optional HTTP service. Init builds
// these components from a config.Config, Open starts them, and Close stops
// them. Reset additionally deletes everything the instance stored.
//
//	e := echo.NewEcho(config.NewDefaultConfig())
//	if err := e.Init(); err != nil {
//		...
//	}
//	if err := e.Open(ctx); err != nil {
//		...
//	}
//	p, err := e.CreateParty(ctx)
package echo
