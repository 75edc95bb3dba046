// Package handlers contains the consumers of domain events: transactional
// emails for password resets and registrations, media reference updates for
// uploaded files, and trip creation logging.
//
// Handlers are registered on a messaging.Registry with Register. Each one
// decodes its eventData with Typed and returns an error when the message
// should be rejected.
package handlers
