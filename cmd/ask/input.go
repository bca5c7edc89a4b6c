package main

import (
	"io"
	"strings"

	"github.com/mattn/go-isatty"
)

// maxQuestionSize bounds what is read from standard input.
const maxQuestionSize = 1 << 20

type fder interface {
	Fd() uintptr
}

func isTerminal(v any) bool {
	f, ok := v.(fder)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// readQuestion joins the arguments into the question. Without arguments the
// question is read from stdin unless stdin is a terminal.
func readQuestion(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if stdin == nil || isTerminal(stdin) {
		return "", nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, maxQuestionSize))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
