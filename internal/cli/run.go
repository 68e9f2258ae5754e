package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"filedrop/internal/server/service"

	"github.com/dustin/go-humanize"
)

// App runs parsed commands against the services.
type App struct {
	Links *service.LinkService
	Users *service.UserService
	Out   io.Writer
}

// Run executes cmd.
func (a *App) Run(ctx context.Context, cmd *Command) error {
	rc := service.NewRequestContext("").WithUser(0, "dropctl")

	switch cmd.Name {
	case CmdCreateLink:
		link, err := a.Links.CreateUploadLink(ctx, rc, cmd.Folder, cmd.Password, cmd.Expiry)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "✓ Link %d created for %s\n", link.ID, link.FolderPath)
		fmt.Fprintln(a.Out, link.UploadURL)
		return nil

	case CmdList:
		links, err := a.Links.ListLinks(ctx)
		if err != nil {
			return err
		}
		a.printLinks(links)
		return nil

	case CmdDeleteLink:
		if err := a.Links.DeleteLink(ctx, rc, cmd.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "✓ Link %d deleted\n", cmd.ID)
		return nil

	case CmdExport:
		return a.export(ctx, cmd)

	case CmdCleanup:
		stale, err := a.Links.Cleanup(ctx, rc, cmd.Confirm)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			fmt.Fprintln(a.Out, "No stale links.")
			return nil
		}
		a.printLinks(stale)
		if cmd.Confirm {
			fmt.Fprintf(a.Out, "\n✓ Removed %d stale link(s)\n", len(stale))
		} else {
			fmt.Fprintf(a.Out, "\n%d stale link(s). Run with -confirm to remove them.\n", len(stale))
		}
		return nil

	case CmdAddUser:
		u, err := a.Users.CreateUser(ctx, rc, cmd.Username, cmd.Password)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "✓ User %s created\n", u.Username)
		return nil

	case CmdDeleteUser:
		u, err := a.Users.LookupUser(ctx, cmd.Username)
		if err != nil {
			return err
		}
		if err := a.Users.DeleteUser(ctx, rc, u.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "✓ User %s deleted\n", u.Username)
		return nil

	case CmdPasswd:
		u, err := a.Users.LookupUser(ctx, cmd.Username)
		if err != nil {
			return err
		}
		if err := a.Users.UpdatePassword(ctx, rc, u.ID, cmd.Password); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "✓ Password updated for %s\n", u.Username)
		return nil
	}

	return &ValidationError{Arg: cmd.Name, Cause: "unknown command"}
}

// export writes the link folder to a new ZIP file. A partial archive is
// removed on failure.
func (a *App) export(ctx context.Context, cmd *Command) error {
	tree, name, err := a.Links.OpenArchive(ctx, cmd.ID)
	if err != nil {
		return err
	}

	out := cmd.Output
	if out == "" {
		out = name
	}
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	err = tree.WriteZip(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}

	fmt.Fprintf(a.Out, "✓ Exported %d file(s), %s, to %s\n",
		len(tree.Files()), humanize.IBytes(uint64(tree.Size())), out)
	return nil
}

func (a *App) printLinks(links []service.LinkView) {
	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFOLDER\tFILES\tPASSWORD\tEXPIRES\tSTATUS")
	for _, l := range links {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			l.ID, l.FolderPath, l.FileCount, yesNo(l.HasPassword), expires(l.ExpiresAt), status(l))
	}
	w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func expires(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}

func status(l service.LinkView) string {
	switch {
	case l.Expired:
		return "expired"
	case l.FolderMissing:
		return "folder missing"
	default:
		return "active"
	}
}
