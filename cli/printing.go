package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/signscan/signscan/scan"
)

func configureColor(c *cli.Context) error {
	if c.Bool(flagNoColor) {
		color.NoColor = true
	}
	return nil
}

// printf prints a message with a newline.
func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}

// infof prints a message prefixed with a bold "Info: ".
func infof(w io.Writer, format string, a ...interface{}) {
	bold := color.New(color.Bold)
	bold.Fprint(w, "Info: ")
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	yellow := color.New(color.Bold, color.FgYellow)
	yellow.Fprint(w, "Warning: ")
	fmt.Fprintf(w, format+"\n", a...)
}

// printDecision prints a decision, green when confident and yellow otherwise.
func printDecision(w io.Writer, d scan.Decision) {
	c := color.New(color.Bold, color.FgGreen)
	if !d.IsConfident {
		c = color.New(color.Bold, color.FgYellow)
	}
	c.Fprintf(w, "%s", d.Label)
	fmt.Fprintf(w, " (%s", d.ConfidenceString)
	if d.Samples > 1 {
		fmt.Fprintf(w, " over %d samples", d.Samples)
	}
	fmt.Fprintln(w, ")")
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}
