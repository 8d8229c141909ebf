// Package terminal is for terminal outputting
package terminal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

type Terminal struct {
	out     io.Writer
	verbose io.Writer
	err     io.Writer
	in      *os.File

	Green  func(format string, a ...interface{}) string
	Yellow func(format string, a ...interface{}) string
	Red    func(format string, a ...interface{}) string
	Blue   func(format string, a ...interface{}) string
}

func New() (t *Terminal) {
	return &Terminal{
		out:     os.Stdout,
		verbose: os.Stdout,
		err:     os.Stderr,
		in:      os.Stdin,
		Green:   color.New(color.FgGreen).SprintfFunc(),
		Yellow:  color.New(color.FgYellow).SprintfFunc(),
		Red:     color.New(color.FgRed).SprintfFunc(),
		Blue:    color.New(color.FgBlue).SprintfFunc(),
	}
}

// NewTestTerminal returns a terminal writing into buffers, with colors disabled.
func NewTestTerminal() (*Terminal, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	verbose := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	plain := func(format string, a ...interface{}) string { return fmt.Sprintf(format, a...) }
	return &Terminal{
		out:     out,
		verbose: verbose,
		err:     errOut,
		Green:   plain,
		Yellow:  plain,
		Red:     plain,
		Blue:    plain,
	}, out, verbose, errOut
}

func (t *Terminal) SetVerbose(verbose bool) {
	if verbose {
		t.out = os.Stdout
	} else {
		t.out = silentWriter{}
	}
}

// Out is where streamed remote stdout goes.
func (t *Terminal) Out() io.Writer {
	return t.verbose
}

// ErrOut is where streamed remote stderr and progress indicators go.
func (t *Terminal) ErrOut() io.Writer {
	return t.err
}

// IsInteractive reports whether stdin is attached to a terminal.
func (t *Terminal) IsInteractive() bool {
	if t.in == nil {
		return false
	}
	return term.IsTerminal(int(t.in.Fd()))
}

func (t *Terminal) Print(a string) {
	fmt.Fprintln(t.out, a)
}

func (t *Terminal) Printf(format string, a ...interface{}) {
	fmt.Fprintf(t.out, format, a...)
}

func (t *Terminal) Vprint(a string) {
	fmt.Fprintln(t.verbose, a)
}

func (t *Terminal) Vprintf(format string, a ...interface{}) {
	fmt.Fprintf(t.verbose, format, a...)
}

func (t *Terminal) Eprint(a string) {
	fmt.Fprintln(t.err, a)
}

func (t *Terminal) Eprintf(format string, a ...interface{}) {
	fmt.Fprintf(t.err, format, a...)
}

func (t *Terminal) Errprint(err error, a string) {
	t.Eprint(t.Red("Error: " + err.Error()))
	if a != "" {
		t.Eprint(t.Red(a))
	}
	if withDirective, ok := err.(interface{ Directive() string }); ok {
		t.Eprint(t.Red(withDirective.Directive()))
	}
}

type silentWriter struct{}

func (w silentWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// NewSpinner writes to stderr so stdout stays clean for piping.
func (t *Terminal) NewSpinner() *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(t.err))
	s.HideCursor = true
	return s
}

// NewBytesBar tracks a transfer of size bytes on stderr.
func (t *Terminal) NewBytesBar(size int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(t.err),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionSetDescription(description),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(t.err) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
