// Package webhook serves the inbound endpoints of the relay.
//
// Every POST route follows the same flow:
//
//  1. Body read up to the configured limit (413 when larger)
//  2. Signature verified over the exact bytes received (401 on failure)
//  3. Body parsed into an envelope event (400 only when unrecoverable)
//  4. URL verification challenges echoed back
//  5. Event handed to the dispatcher; replies are written as JSON
//
// Recoverable parse failures and handler errors are acknowledged with 200 so the
// sender does not retry a delivery that cannot succeed.
//
// # Routes
//
//	POST /webhooks/slack/events        chat events and URL verification
//	POST /webhooks/slack/interactions  buttons, modals and shortcuts
//	POST /webhooks/slack/commands      slash commands
//	POST /webhooks/jobber              FSM topic webhooks
//	GET  /health                       dependency checks
//	GET  /metrics                      Prometheus exposition, when enabled
package webhook
