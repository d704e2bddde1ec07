package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	token bool
	calls []string
	err   error
}

func (f *fakeExec) hasToken() bool { return f.token }

func (f *fakeExec) SetToken(context.Context) error {
	f.calls = append(f.calls, "token")
	f.token = true
	return nil
}

func (f *fakeExec) Lookup(_ context.Context, username string) error {
	f.calls = append(f.calls, "lookup "+username)
	return f.err
}

func (f *fakeExec) Users(context.Context) error {
	f.calls = append(f.calls, "users")
	return f.err
}

func (f *fakeExec) Hidden(_ context.Context, userID string) error {
	f.calls = append(f.calls, "hidden "+userID)
	return f.err
}

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSpace(fmt.Sprintln(a...)))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func run(f *fakeExec, input ...string) {
	runREPL(context.Background(), f, bufio.NewScanner(strings.NewReader(strings.Join(input, "\n"))))
}

func TestRunREPL_Dispatch(t *testing.T) {
	out := captureOutput(t)
	f := &fakeExec{}

	run(f, "token", "lookup alice", "users", "l", "hidden", "hidden u-2", "", "exit", "users")

	assert.Equal(t, []string{"token", "lookup alice", "users", "users", "hidden ", "hidden u-2"}, f.calls)
	assert.Contains(t, *out, "burrow> no token >")
	assert.Contains(t, *out, "burrow> ready >")
	assert.Equal(t, "Bye!", (*out)[len(*out)-1])
}

func TestRunREPL_UsageAndUnknown(t *testing.T) {
	out := captureOutput(t)
	f := &fakeExec{}

	run(f, "lookup", "frobnicate", "help")

	assert.Empty(t, f.calls)
	assert.Contains(t, *out, "Usage: lookup <username>")
	assert.Contains(t, *out, "Unknown command: frobnicate")
	assert.Contains(t, *out, "Available commands: token, lookup <username>, users, hidden [userId], exit")
}

func TestRunREPL_ErrorsAreReported(t *testing.T) {
	out := captureOutput(t)
	f := &fakeExec{err: errors.New("boom")}

	run(f, "users", "quit")

	assert.Contains(t, *out, "Error: boom")
}
