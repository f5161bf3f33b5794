// Package ingest persists user messages idempotently and produces exactly one
// assistant reply per (thread, client_message_id).
//
// The reply is generated outside of any transaction. Only the final insert of
// the assistant message runs in a short transaction, so a canceled or failed
// generation leaves the user message in place for a later retry.
package ingest
