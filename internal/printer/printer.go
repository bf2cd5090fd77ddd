// Package printer formats learnforge CLI output with colors.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Printer writes CLI output to a pair of writers, usually a command's
// stdout and stderr.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a printer writing regular output to out and errors to errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Success prints a message in green with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a message in yellow with a warning prefix.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.out, "⚠  %s\n", fmt.Sprintf(format, a...))
}

// Step prints a step of a multi-step operation.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Section prints a bold heading.
func (p *Printer) Section(title string) {
	bold.Fprintf(p.out, "%s\n", title)
}

// Field prints an indented key/value pair.
func (p *Printer) Field(key string, value any) {
	fmt.Fprintf(p.out, "  %-22s %v\n", key+":", value)
}

// Printf prints a plain formatted message.
func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Error prints a formatted error with its cause and suggestions to the
// error writer, and returns an error for cobra wrapping cause.
func (p *Printer) Error(title string, cause error, suggestions ...string) error {
	return p.ErrorWithContext(title, cause, nil, suggestions...)
}

// ErrorWithContext is Error with sorted key/value details printed after
// the title.
func (p *Printer) ErrorWithContext(title string, cause error, context map[string]string, suggestions ...string) error {
	red.Fprintf(p.err, "%s\n", title)

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(p.err, "  %s: %s\n", k, context[k])
	}

	if cause != nil {
		fmt.Fprintln(p.err)
		for _, line := range strings.Split(cause.Error(), "\n") {
			fmt.Fprintf(p.err, "  %s\n", line)
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
		}
	}

	// cobra's own printing is silenced
	if cause == nil {
		return fmt.Errorf("%s", title)
	}
	return fmt.Errorf("%s: %w", title, cause)
}
