package bridge

import "fmt"

// UnknownCommandError is returned when no command is registered under a name.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command: %s", e.Command)
}

// CommandError wraps a failure returned by a command implementation.
// Its message is the underlying error text, which is what the page shows.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RemoteError is a command failure reported by a remote bridge.
type RemoteError struct {
	Command    string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}
