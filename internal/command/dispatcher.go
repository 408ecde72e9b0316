// Package command implements the interactive command loop.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/filter"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/metrics"
	"firestige.xyz/netcap/internal/packetgen"
	"firestige.xyz/netcap/internal/transform"
)

// ErrUnknownCommand is returned for a command name that is not registered.
var ErrUnknownCommand = fmt.Errorf("%w: unknown command", core.ErrCommandParse)

// maxLine bounds one command line; literal DSL documents can be long.
const maxLine = 1 << 20

// Filters is the filter manager surface used by the filter commands.
type Filters interface {
	AddFilter(connector, clause string) error
	RemoveLastFilter() error
	RemoveAllFilters() error
	ReplaceFilter(oldExpr, newExpr string) error
	Filters() []filter.Clause
	String() string
}

// Injector writes frames to the capture device.
type Injector interface {
	Inject(data []byte) error
}

// Publisher receives a new active transformation.
type Publisher interface {
	Swap(t *transform.Transform) *transform.Transform
}

// Compiler compiles DSL expressions, typically a *dsl.Cache.
type Compiler interface {
	Compile(expr *dsl.Expression) (*dsl.Program, error)
}

// Targeter adopts an operator supplied expression as the full expression
// of self-adaptation, typically an *adapt.Controller.
type Targeter interface {
	SetTarget(expr *dsl.Expression, t *transform.Transform)
}

// Options wires a Dispatcher to the running components. Nil collaborators
// make their commands fail with an error.
type Options struct {
	Filters   Filters
	Injector  Injector
	Publisher Publisher
	Compiler  Compiler
	Targeter  Targeter // optional, set-dsl-tr-fn publishes through it
	Dynamic   bool     // set-dsl-tr-fn allowed
	Prompt    string   // printed before each line read by Run
	Logger    log.Logger
}

// ParseError reports a command line that could not be parsed.
type ParseError struct {
	Command string
	Msg     string
}

func (e *ParseError) Error() string { return e.Command + ": " + e.Msg }

func (e *ParseError) Unwrap() error { return core.ErrCommandParse }

type handlerFunc func(d *Dispatcher, arg string, out io.Writer) error

type command struct {
	name  string
	alias string
	usage string
	help  string
	run   handlerFunc
	quit  bool
}

func commandTable() []command {
	return []command{
		{name: "add-filter", alias: "af", usage: "[and|or] <clause>", help: "append a filter clause", run: addFilter},
		{name: "get-filters", alias: "gf", help: "print the active filter", run: getFilters},
		{name: "rm-last-filter", alias: "rlf", help: "remove the last filter clause", run: removeLastFilter},
		{name: "rm-all-filters", alias: "raf", help: "remove all filter clauses", run: removeAllFilters},
		{name: "replace-filter", alias: "rf", usage: "<old> with-filter <new>", help: "replace a filter clause", run: replaceFilter},
		{name: "gen-packet", alias: "gp", usage: "<descriptor>", help: "generate a packet and print its bytes", run: genPacket},
		{name: "send-packet", alias: "sp", usage: "<descriptor | bytes>", help: "inject a packet into the capture path", run: sendPacket},
		{name: "set-dsl-tr-fn", alias: "sdtf", usage: "<dsl>", help: "replace the active extraction expression", run: setDSL},
		{name: "help", alias: "?", help: "list commands", run: help},
		{name: "quit", alias: "q", help: "stop netcap", quit: true},
	}
}

// Dispatcher parses command lines and runs them against the wired components.
type Dispatcher struct {
	opts     Options
	commands []command
	byName   map[string]*command
	logger   log.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		opts:     opts,
		commands: commandTable(),
		logger:   opts.Logger,
	}
	d.byName = make(map[string]*command, 2*len(d.commands))
	if d.logger == nil {
		d.logger = log.GetLogger().WithField("component", "command")
	}
	for i := range d.commands {
		c := &d.commands[i]
		d.byName[c.name] = c
		d.byName[c.alias] = c
	}
	return d
}

// Run reads command lines from in until EOF, ctx is done or a quit command.
// It reports whether quit was requested. Command errors are written to out
// and never end the loop.
func (d *Dispatcher) Run(ctx context.Context, in io.Reader, out io.Writer) (bool, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	d.prompt(out)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false, nil
		}
		quit, err := d.Execute(scanner.Text(), out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if errors.Is(err, ErrUnknownCommand) {
				d.writeHelp(out)
			}
		}
		if quit {
			return true, nil
		}
		d.prompt(out)
	}
	return false, scanner.Err()
}

func (d *Dispatcher) prompt(out io.Writer) {
	if d.opts.Prompt != "" {
		fmt.Fprint(out, d.opts.Prompt)
	}
}

// Execute runs a single command line. Blank lines are ignored. A panicking
// handler is recovered and reported as an error.
func (d *Dispatcher) Execute(line string, out io.Writer) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	c, ok := d.byName[name]
	if !ok {
		metrics.CommandsTotal.WithLabelValues("unknown", metrics.ResultError).Inc()
		return false, fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	if c.quit {
		metrics.CommandsTotal.WithLabelValues(c.name, metrics.ResultOK).Inc()
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("command", c.name).Errorf("command panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%s: internal error: %v", c.name, r)
		}
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
		}
		metrics.CommandsTotal.WithLabelValues(c.name, result).Inc()
	}()

	d.logger.WithField("command", c.name).Debug("executing command")
	return false, c.run(d, arg, out)
}

func (d *Dispatcher) filters(name string) (Filters, error) {
	if d.opts.Filters == nil {
		return nil, fmt.Errorf("%s: no filter manager", name)
	}
	return d.opts.Filters, nil
}

func printFilter(out io.Writer, f Filters) {
	rendered := f.String()
	if rendered == "" {
		rendered = "(none)"
	}
	fmt.Fprintf(out, "filter: %s\n", rendered)
}

func addFilter(d *Dispatcher, arg string, out io.Writer) error {
	f, err := d.filters("add-filter")
	if err != nil {
		return err
	}
	connector, clause := filter.ParseClause(arg)
	if clause == "" {
		return &ParseError{Command: "add-filter", Msg: "missing clause"}
	}
	if err := f.AddFilter(connector, clause); err != nil {
		return err
	}
	printFilter(out, f)
	return nil
}

func getFilters(d *Dispatcher, _ string, out io.Writer) error {
	f, err := d.filters("get-filters")
	if err != nil {
		return err
	}
	for i, c := range f.Filters() {
		conn := c.Connector
		if i == 0 || conn == "" {
			conn = "-"
		}
		fmt.Fprintf(out, "%d\t%s\t%s\n", i, conn, c.Expr)
	}
	printFilter(out, f)
	return nil
}

func removeLastFilter(d *Dispatcher, _ string, out io.Writer) error {
	f, err := d.filters("rm-last-filter")
	if err != nil {
		return err
	}
	if err := f.RemoveLastFilter(); err != nil {
		return err
	}
	printFilter(out, f)
	return nil
}

func removeAllFilters(d *Dispatcher, _ string, out io.Writer) error {
	f, err := d.filters("rm-all-filters")
	if err != nil {
		return err
	}
	if err := f.RemoveAllFilters(); err != nil {
		return err
	}
	printFilter(out, f)
	return nil
}

func replaceFilter(d *Dispatcher, arg string, out io.Writer) error {
	f, err := d.filters("replace-filter")
	if err != nil {
		return err
	}
	oldExpr, newExpr, ok := strings.Cut(arg, " with-filter ")
	if !ok || strings.TrimSpace(oldExpr) == "" || strings.TrimSpace(newExpr) == "" {
		return &ParseError{Command: "replace-filter", Msg: "usage: replace-filter <old> with-filter <new>"}
	}
	if err := f.ReplaceFilter(oldExpr, newExpr); err != nil {
		return err
	}
	printFilter(out, f)
	return nil
}

func genPacket(_ *Dispatcher, arg string, out io.Writer) error {
	d, err := packetgen.ParseDescriptor(arg)
	if err != nil {
		return err
	}
	frame, err := packetgen.Generate(d)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, packetgen.Format(frame))
	return nil
}

func sendPacket(d *Dispatcher, arg string, out io.Writer) error {
	if d.opts.Injector == nil {
		return fmt.Errorf("send-packet: no capture device")
	}
	frame, err := packetgen.Build(arg)
	if err != nil {
		return err
	}
	if err := d.opts.Injector.Inject(frame); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %d bytes\n", len(frame))
	return nil
}

func setDSL(d *Dispatcher, arg string, out io.Writer) error {
	if !d.opts.Dynamic {
		return fmt.Errorf("set-dsl-tr-fn: %w", core.ErrDynamicDisabled)
	}
	if d.opts.Publisher == nil {
		return fmt.Errorf("set-dsl-tr-fn: no pipeline")
	}
	if arg == "" {
		return &ParseError{Command: "set-dsl-tr-fn", Msg: "missing expression"}
	}
	expr, err := dsl.Resolve(arg)
	if err != nil {
		return err
	}

	var prog *dsl.Program
	if d.opts.Compiler != nil {
		prog, err = d.opts.Compiler.Compile(expr)
	} else {
		prog, err = dsl.Compile(expr)
	}
	if err != nil {
		return err
	}

	tr := transform.FromProgram("dsl", prog)
	if d.opts.Targeter != nil {
		d.opts.Targeter.SetTarget(expr, tr)
	} else {
		d.opts.Publisher.Swap(tr)
	}
	metrics.TransformSwapsTotal.WithLabelValues("command").Inc()
	d.logger.WithField("fields", strings.Join(prog.Names(), ",")).Info("extraction expression replaced")
	fmt.Fprintf(out, "transformation: %s\n", strings.Join(prog.Names(), ","))
	return nil
}

func help(d *Dispatcher, _ string, out io.Writer) error {
	d.writeHelp(out)
	return nil
}

func (d *Dispatcher) writeHelp(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	for _, c := range d.commands {
		head := c.name + ", " + c.alias
		if c.usage != "" {
			head += " " + c.usage
		}
		fmt.Fprintf(out, "  %-48s %s\n", head, c.help)
	}
}
