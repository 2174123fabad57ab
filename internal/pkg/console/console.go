// Package console prints operator-facing deploy output: step headers,
// echoed remote command output, warnings and the closing summary.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

type palette struct {
	step    *color.Color
	command *color.Color
	success *color.Color
	warn    *color.Color
	fail    *color.Color
}

func newPalette() palette {
	return palette{
		step:    color.New(color.FgCyan, color.Bold),
		command: color.New(color.FgHiBlack),
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
	}
}

func (p palette) disable() {
	for _, c := range []*color.Color{p.step, p.command, p.success, p.warn, p.fail} {
		c.DisableColor()
	}
}

type Console struct {
	out    io.Writer
	errOut io.Writer
	colors palette
	plain  bool
}

type Option func(*Console)

// WithoutColor strips escape codes regardless of the terminal, for
// consoles that write into stored logs.
func WithoutColor() Option {
	return func(c *Console) {
		c.plain = true
		c.colors.disable()
	}
}

func New(out, errOut io.Writer, opts ...Option) *Console {
	c := &Console{out: out, errOut: errOut, colors: newPalette()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discard returns a console that drops everything.
func Discard() *Console {
	return New(io.Discard, io.Discard)
}

func (c *Console) Step(format string, args ...interface{}) {
	c.colors.step.Fprintf(c.out, "\n==> "+format+"\n", args...)
}

func (c *Console) Info(format string, args ...interface{}) {
	fmt.Fprintf(c.out, "    "+format+"\n", args...)
}

func (c *Console) Success(format string, args ...interface{}) {
	c.colors.success.Fprintf(c.out, "    "+format+"\n", args...)
}

func (c *Console) Warn(format string, args ...interface{}) {
	c.colors.warn.Fprintf(c.out, "    warning: "+format+"\n", args...)
}

func (c *Console) Fail(format string, args ...interface{}) {
	c.colors.fail.Fprintf(c.errOut, "    error: "+format+"\n", args...)
}

func (c *Console) Command(cmd string) {
	c.colors.command.Fprintf(c.out, "    $ %s\n", cmd)
}

// Output echoes captured remote streams.
func (c *Console) Output(stdout, stderr string) {
	if s := strings.TrimRight(stdout, "\n"); s != "" {
		fmt.Fprintln(c.out, s)
	}
	if s := strings.TrimRight(stderr, "\n"); s != "" {
		fmt.Fprintln(c.errOut, s)
	}
}

func (c *Console) Rule() {
	fmt.Fprintln(c.out, strings.Repeat("=", 60))
}

type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress renders a bar on the error stream so it never mixes with
// echoed command output.
func (c *Console) NewProgress(total int, description string) *Progress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(c.errOut),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(!c.plain),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(c.errOut, "\n")
		}),
	)
	return &Progress{bar: bar}
}

func (p *Progress) Add() {
	_ = p.bar.Add(1)
}

func (p *Progress) Finish() {
	_ = p.bar.Finish()
}
