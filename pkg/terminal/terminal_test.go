package terminal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type directiveErr struct{}

func (directiveErr) Error() string     { return "no key pair" }
func (directiveErr) Directive() string { return "pass one with -i" }

func TestTestTerminalWritesToBuffers(t *testing.T) {
	term, out, verbose, errOut := NewTestTerminal()

	term.Print("plain")
	term.Vprintf("%s-%d\n", "verbose", 1)
	term.Eprint(term.Yellow("warned"))

	assert.Equal(t, "plain\n", out.String())
	assert.Equal(t, "verbose-1\n", verbose.String())
	assert.Equal(t, "warned\n", errOut.String())
	assert.False(t, term.IsInteractive())
}

func TestErrprintIncludesDirective(t *testing.T) {
	term, _, _, errOut := NewTestTerminal()

	term.Errprint(directiveErr{}, "")
	assert.Contains(t, errOut.String(), "Error: no key pair")
	assert.Contains(t, errOut.String(), "pass one with -i")

	errOut.Reset()
	term.Errprint(errors.New("boom"), "while listing")
	assert.Contains(t, errOut.String(), "while listing")
	assert.NotContains(t, errOut.String(), "pass one with -i")
}

func TestRenderTable(t *testing.T) {
	term, _, verbose, _ := NewTestTerminal()

	term.RenderTable([]string{"Name", "Status"}, [][]string{{"alpha", "Running"}, {"beta", "Terminated"}})

	s := verbose.String()
	assert.Contains(t, s, "NAME")
	assert.Contains(t, s, "alpha")
	assert.Contains(t, s, "Terminated")
}
