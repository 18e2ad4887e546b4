package app

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nuetzliches/sbinspect/internal/config"
)

func scenariosCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "missing subcommand: validate | list")
		return 2
	}

	switch args[0] {
	case "validate":
		return scenariosValidate(args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	case "list":
		return runClientCmd("scenarios", args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "unknown scenarios subcommand: %s\n", args[0])
		return 2
	}
}

// scenariosValidate builds the file exactly as serve would, with the same
// environment overrides, and reports the result.
func scenariosValidate(args []string, stdout, stderr io.Writer, lookup config.LookupFunc) int {
	fs := flag.NewFlagSet("scenarios validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "", "path to a scenarios YAML file (built-ins only when empty)")
	format := fs.String("format", "json", "output format: json|text")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *format != "json" && *format != "text" {
		fmt.Fprintf(stderr, "invalid --format %q (use: json|text)\n", *format)
		return 2
	}

	_, res, err := config.Load(*path, lookup)
	if err != nil {
		res = config.ValidationResult{OK: false, Errors: []string{err.Error()}}
	}

	out := stdout
	code := 0
	if !res.OK {
		out = stderr
		code = 1
	}
	if *format == "text" {
		fmt.Fprintln(out, config.FormatValidationText(res))
		return code
	}
	msg, err := config.FormatValidationJSON(res)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	fmt.Fprintln(out, msg)
	return code
}
