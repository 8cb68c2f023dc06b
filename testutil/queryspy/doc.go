// Package queryspy provides a scripted Query collaborator for testing the
// change stream adapter without a database.
//
// FakeQuery implements querystream.Query and records every interaction:
// listener registrations in order, execute calls, and per-token removal
// counts. Tests drive it with EmitResults, EmitChange, and EmitError to
// produce change notifications, and script failures with FailExecuteWith.
package queryspy
