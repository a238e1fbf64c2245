// Package dispatch routes named commands to a session's browser tree.
package dispatch

import (
	"fmt"

	"github.com/neboloop/browserd/internal/browser"
)

// Command names one dispatcher operation. The names double as gRPC method
// names and HTTP path segments.
type Command string

const (
	OpenBrowser       Command = "OpenBrowser"
	CloseBrowser      Command = "CloseBrowser"
	NewBrowser        Command = "NewBrowser"
	NewContext        Command = "NewContext"
	NewPage           Command = "NewPage"
	SwitchActivePage  Command = "SwitchActivePage"
	AutoActivatePages Command = "AutoActivatePages"
	CloseContext      Command = "CloseContext"
	ClosePage         Command = "ClosePage"
	GoTo              Command = "GoTo"
	GetSessionState   Command = "GetSessionState"
)

// Commands lists every command in a stable order.
var Commands = []Command{
	OpenBrowser,
	CloseBrowser,
	NewBrowser,
	NewContext,
	NewPage,
	SwitchActivePage,
	AutoActivatePages,
	CloseContext,
	ClosePage,
	GoTo,
	GetSessionState,
}

// ParseCommand maps a case-sensitive command name.
func ParseCommand(name string) (Command, error) {
	c := Command(name)
	if _, ok := routes[c]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", browser.ErrUnknownCommand, name)
}

func (c Command) String() string {
	return string(c)
}

// Mutating reports whether the command can change the session tree.
func (c Command) Mutating() bool {
	return c != GetSessionState
}
