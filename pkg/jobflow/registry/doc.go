// Package registry provides the copy-on-write tables behind every
// registration in jobflow: event type to handlers, job name to task name,
// task name to task, and event type to decoder.
//
// # Basic Usage
//
//	routes := registry.New[string, string]()
//	routes.Register("verify_account_email", "accounts.verify_email")
//
//	task := routes.Lookup("cleanup", "cleanup") // falls back to the key
//
// # Appending
//
// Update applies a function to the current value under the writer lock,
// which is how ordered handler lists grow:
//
//	handlers := registry.New[string, []Handler]()
//	handlers.Update("account.created", func(cur []Handler, _ bool) []Handler {
//	    return append(cur[:len(cur):len(cur)], h)
//	})
//
// # Thread Safety
//
// Writers are serialized. Readers (Get, Lookup, Has, Keys, Len, Range) load
// an immutable snapshot and never block, so registration may race with
// dispatch: a reader sees either the table before or after a write, never a
// partial one. Values stored in the table must themselves be treated as
// immutable once registered.
package registry
