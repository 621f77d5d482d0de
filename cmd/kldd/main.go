package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/leodido/kldd"
	"github.com/leodido/structcli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"
)

// Build metadata injected with -ldflags "-X main.version=...".
// A plain `go build` leaves them empty and --version prints "(dev)".
var (
	version = ""
	commit  = ""
	date    = ""
)

const progName = "kldd"

var errNoFiles = errors.New("no files given")

// checkVersion runs before any argument is looked at.
var checkVersion = kldd.CheckVersion

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
// Per-file failures never change it.
func execute(args []string, stdout, stderr io.Writer) int {
	if err := checkVersion(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return 1
	}

	root := rootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errNoFiles) {
			fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		}
		return 1
	}
	return 0
}

type outputFormat int

const (
	formatText outputFormat = iota
	formatJSON
)

var outputFormatIdentifiers = map[outputFormat][]string{
	formatText: {"text"},
	formatJSON: {"json"},
}

func (f outputFormat) String() string {
	if ids, ok := outputFormatIdentifiers[f]; ok {
		return ids[0]
	}
	return fmt.Sprintf("outputFormat(%d)", int(f))
}

// Options defines the flags of kldd.
type Options struct {
	Format  outputFormat `flag:"format" flagshort:"o" flagdescr:"Output format (text, json)" flagcustom:"true"`
	BTF     bool         `flag:"btf" flagdescr:"Also report whether each module carries BTF type information"`
	Jobs    int          `flag:"jobs" flagshort:"j" flagdescr:"Inspect up to this many modules in parallel"`
	Verbose bool         `flag:"verbose" flagdescr:"Log resolution details to standard error"`
}

func (o *Options) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *Options) DefineFormat(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*outputFormat)
	*fieldPtr = formatText
	return enumflag.New(fieldPtr, "format", outputFormatIdentifiers, enumflag.EnumCaseInsensitive), descr
}

func (o *Options) DecodeFormat(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parseOutputFormat(s)
}

func parseOutputFormat(input string) (outputFormat, error) {
	name := strings.TrimSpace(input)
	if name == "" {
		return formatText, nil
	}

	var f outputFormat
	value := enumflag.New(&f, "format", outputFormatIdentifiers, enumflag.EnumCaseInsensitive)
	if err := value.Set(name); err != nil {
		return formatText, fmt.Errorf("unknown format: %q (available: text, json)", name)
	}
	return f, nil
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   progName + " [flags] file...",
		Short: "List the dependencies of kernel modules",
		Long: `kldd prints, for each kernel module given, the files that satisfy its
declared (DT_NEEDED) dependencies, followed by the parent kernel images.

Dependencies are looked up under ` + kldd.DefaultSearchRoots[0] + ` and ` + kldd.DefaultSearchRoots[1] + `.
64-bit modules are looked up in the amd64 subdirectory of the dependency's
module directory. Only files that exist are printed.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(c *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprint(c.ErrOrStderr(), c.UsageString())
				return errNoFiles
			}
			return nil
		},
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(c.Context(), c.OutOrStdout(), c.ErrOrStderr(), opts, args)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, stdout, stderr io.Writer, opts *Options, files []string) error {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	inspectOpts := []kldd.Option{kldd.WithLogger(logger)}
	if opts.BTF {
		inspectOpts = append(inspectOpts, kldd.WithBTF())
	}
	inspector := kldd.NewInspector(inspectOpts...)

	reports, err := inspector.InspectAll(ctx, files, opts.Jobs)
	if err != nil {
		return err
	}

	if opts.Format == formatJSON {
		return kldd.WriteJSON(stdout, reports)
	}

	rc := kldd.NewRunConfig(progName, len(files))
	rc.ShowBTF = opts.BTF
	for _, r := range reports {
		if err := kldd.WriteText(stdout, stderr, r, rc); err != nil {
			return err
		}
	}
	return nil
}

func versionString() string {
	if version == "" {
		return "(dev)"
	}
	s := version
	if commit != "" {
		s += " (" + commit + ")"
	}
	if date != "" {
		s += " built " + date
	}
	return s
}
