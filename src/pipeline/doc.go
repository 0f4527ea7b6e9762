// Package pipeline merges the feeds of a party into one ordered stream of
// messages and writes local messages back to the party's feeds.
//
// Inbound, one reader goroutine per admitted feed hands messages to a single
// merge goroutine. A message is dispatched when the pipeline's Timeframe
// dominates the Timeframe declared in the message, ie. when everything its
// writer had seen has been dispatched locally too. Messages from one feed are
// dispatched in log order; when several feeds have a message ready, the feed
// with the lowest key goes first. Credentials are folded into the
// credentials.PartyState, which admits new feeds into the merge; mutations on
// admitted data feeds are applied to items by the model.ItemManager.
//
// Outbound, one writer goroutine appends local messages in FIFO order, each
// stamped with the Timeframe dispatched so far. A write is only visible in
// the party's state once it comes back through the inbound merge, so callers
// that need to observe it use WaitForMessage.
package pipeline
