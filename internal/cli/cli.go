// Package cli implements dropctl, the administration command line.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// ErrHelp is returned when usage was requested.
var ErrHelp = flag.ErrHelp

const (
	CmdCreateLink = "create-link"
	CmdList       = "list"
	CmdDeleteLink = "delete-link"
	CmdCleanup    = "cleanup"
	CmdExport     = "export"
	CmdAddUser    = "add-user"
	CmdDeleteUser = "delete-user"
	CmdPasswd     = "passwd"
)

// Command is one parsed dropctl invocation.
type Command struct {
	Name     string
	Folder   string
	Password string
	Expiry   string
	Username string
	ID       int64
	Output   string
	Confirm  bool
}

const usage = `usage: dropctl <command> [flags]

commands:
  create-link -folder F [-password P] [-expiry YYYY-MM-DDTHH:MM]
  list
  delete-link -id N
  cleanup [-confirm]
  export -id N [-out FILE.zip]
  add-user -username U -password P
  delete-user -username U
  passwd -username U -password P
`

// Usage writes the command summary to w.
func Usage(w io.Writer) {
	fmt.Fprint(w, usage)
}

// ParseArgs parses the arguments after the program name.
func ParseArgs(args []string, stderr io.Writer) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<command>", Cause: "no command provided"}
	}

	cmd := &Command{Name: args[0]}
	fs := flag.NewFlagSet("dropctl "+cmd.Name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var required []string
	switch cmd.Name {
	case CmdCreateLink:
		fs.StringVar(&cmd.Folder, "folder", "", "folder, relative to the base path or absolute inside it")
		fs.StringVar(&cmd.Password, "password", "", "optional upload password")
		fs.StringVar(&cmd.Expiry, "expiry", "", "optional expiry, local time YYYY-MM-DDTHH:MM")
		required = []string{"folder"}
	case CmdList:
	case CmdDeleteLink:
		fs.Int64Var(&cmd.ID, "id", 0, "link ID")
		required = []string{"id"}
	case CmdExport:
		fs.Int64Var(&cmd.ID, "id", 0, "link ID")
		fs.StringVar(&cmd.Output, "out", "", "archive to write, defaults to <folder>.zip")
		required = []string{"id"}
	case CmdCleanup:
		fs.BoolVar(&cmd.Confirm, "confirm", false, "delete stale links instead of listing them")
	case CmdAddUser, CmdPasswd:
		fs.StringVar(&cmd.Username, "username", "", "account name")
		fs.StringVar(&cmd.Password, "password", "", "account password")
		required = []string{"username", "password"}
	case CmdDeleteUser:
		fs.StringVar(&cmd.Username, "username", "", "account name")
		required = []string{"username"}
	case "help", "-h", "-help", "--help":
		return nil, ErrHelp
	default:
		return nil, &ValidationError{Arg: cmd.Name, Cause: "unknown command"}
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, &ValidationError{Arg: cmd.Name, Cause: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &ValidationError{Arg: fs.Arg(0), Cause: "unexpected argument"}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range required {
		if !set[name] || strings.TrimSpace(fs.Lookup(name).Value.String()) == "" {
			return nil, &ValidationError{Arg: "-" + name, Cause: "required"}
		}
	}
	if (cmd.Name == CmdDeleteLink || cmd.Name == CmdExport) && cmd.ID <= 0 {
		return nil, &ValidationError{Arg: "-id", Cause: "must be positive"}
	}

	return cmd, nil
}
