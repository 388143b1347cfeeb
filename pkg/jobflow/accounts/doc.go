// Package accounts is the account-registration domain built on jobflow.
//
// Registering an account publishes event.AccountCreated in-process, where
// TrackNewAccountHandler records it, and dispatches the
// "verify_account_email" job, which a worker runs through VerifyEmailTask to
// send the verification email.
package accounts
