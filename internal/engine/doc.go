// Package engine runs the block scheduling engine. An Orchestrator owns a
// fixed set of blocks; each running block has one loop goroutine that places
// an order per tick through the provisioning client, records the result in
// the block snapshot and the global history log, and completes the run with
// a report once every operation has been attempted.
package engine
