// Package ui provides interactive input components.
package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by prompts when stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

var inReader = bufio.NewReader(os.Stdin)

// SetInput replaces the reader prompts read from.
func SetInput(r io.Reader) {
	inReader = bufio.NewReader(r)
}

// IsInteractive reports whether stdin and stdout are both terminals.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// Prompt displays a prompt and reads user input.
//
// Parameters:
//   - message: The prompt message to display
//
// Returns:
//   - string: The user's input
//   - error: Any error that occurred
func Prompt(message string) (string, error) {
	fmt.Fprintf(Output(), "%s ", InfoStyle.Render(message))

	input, err := inReader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// PromptConfirm displays a yes/no confirmation prompt.
//
// Parameters:
//   - message: The prompt message to display
//   - defaultYes: Whether the default is yes (true) or no (false)
//
// Returns:
//   - bool: True if user confirmed, false otherwise
//   - error: Any error that occurred
func PromptConfirm(message string, defaultYes bool) (bool, error) {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}

	input, err := Prompt(fmt.Sprintf("%s %s", message, suffix))
	if err != nil {
		return false, err
	}

	input = strings.ToLower(input)
	if input == "" {
		return defaultYes, nil
	}
	return input == "y" || input == "yes", nil
}

// PromptSecret reads a line from the terminal without echoing it.
//
// Parameters:
//   - message: The prompt message to display
//
// Returns:
//   - string: The trimmed secret
//   - error: ErrNotInteractive when stdin is not a terminal
func PromptSecret(message string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotInteractive
	}
	fmt.Fprintf(Output(), "%s ", InfoStyle.Render(message))
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(Output())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
