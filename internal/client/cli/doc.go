// Package cli provides burrowctl, an interactive client for the burrow
// directory API.
//
// Commands:
//   - token            set the access token (read without echo)
//   - lookup <name>    resolve a username
//   - users            list the directory
//   - hidden [userId]  show a hidden address, own one by default
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
