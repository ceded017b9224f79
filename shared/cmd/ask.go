package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrPasswordMismatch is returned when the two entries of a password differ.
var ErrPasswordMismatch = errors.New("Passwords do not match")

// Asker asks questions on a terminal.
type Asker struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewAsker returns an Asker reading answers from reader and printing questions to stdout.
func NewAsker(reader *bufio.Reader) Asker {
	return Asker{reader: reader, out: os.Stdout}
}

// AskBool asks a yes/no question until a valid answer is given.
func (a *Asker) AskBool(question string, defaultAnswer string) (bool, error) {
	for {
		fmt.Fprint(a.out, question)

		line, err := a.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return false, err
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" {
			answer = defaultAnswer
		}

		switch answer {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		}

		fmt.Fprintf(os.Stderr, "Invalid input %q, answer yes or no.\n\n", answer)
	}
}

// AskPassword reads a password twice from the terminal without echo.
// An empty password is refused.
func AskPassword(question string) (string, error) {
	fd := int(os.Stdin.Fd())

	read := func(prompt string) (string, error) {
		fmt.Fprint(os.Stderr, prompt)
		defer fmt.Fprintln(os.Stderr)

		pwd, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("Failed reading password: %w", err)
		}

		return string(pwd), nil
	}

	for {
		first, err := read(question)
		if err != nil {
			return "", err
		}

		if first == "" {
			fmt.Fprintln(os.Stderr, "Empty password, try again.")
			continue
		}

		second, err := read("Again: ")
		if err != nil {
			return "", err
		}

		if first != second {
			return "", ErrPasswordMismatch
		}

		return first, nil
	}
}
