package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives.
type execIface interface {
	hasToken() bool
	SetToken(ctx context.Context) error
	Lookup(ctx context.Context, username string) error
	Users(ctx context.Context) error
	Hidden(ctx context.Context, userID string) error
}

// runREPL reads one command per line until EOF, "exit" or "quit".
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner) {
	for {
		status := "no token"
		if a.hasToken() {
			status = "ready"
		}
		printlnFn(fmt.Sprintf("burrow> %s > ", status))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn("Available commands: token, lookup <username>, users, hidden [userId], exit")

		case "token":
			err = a.SetToken(ctx)

		case "lookup":
			if len(args) != 1 {
				printlnFn("Usage: lookup <username>")
				continue
			}
			err = a.Lookup(ctx, args[0])

		case "users", "l":
			err = a.Users(ctx)

		case "hidden":
			userID := ""
			if len(args) > 0 {
				userID = args[0]
			}
			err = a.Hidden(ctx, userID)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
