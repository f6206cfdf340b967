package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"charfs/internal/errno"
	"charfs/internal/fuseview"
	"charfs/internal/vfs"
)

func newBootCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Boot the filesystem and show the mount table",
		Args:  cobra.NoArgs,
		RunE: a.run(func(_ context.Context, s *session, cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			diag := s.kernel.Diagnostic()
			switch {
			case diag.Recovered:
				fmt.Fprintf(out, "%s recovered a fresh filesystem: %s\n", warnStyle.Render("!"), diag.Cause)
			case diag.Fresh:
				fmt.Fprintln(out, "Booted a fresh filesystem")
			default:
				fmt.Fprintf(out, "Booted %s inodes\n", humanize.Comma(int64(diag.Inodes)))
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PREFIX\tCAPABILITY\tSTATE")
			for _, m := range s.kernel.Mounts() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Prefix, m.ID, m.State)
			}
			return w.Flush()
		}),
	}
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory or device directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			path := vfs.Root
			if len(args) == 1 {
				path = args[0]
			}

			r := s.kernel.Readdir(ctx, path)
			if !r.OK() {
				return r.Code.Err("ls", path)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range r.Value {
				size, age := "-", "-"
				if st, ok := s.kernel.Stat(ctx, vfs.Join(path, e.Name)); ok && st.Kind == vfs.KindFile {
					size = humanize.Bytes(uint64(st.Size))
					age = humanizeTime(st.UpdatedAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Kind, size, age, e.Name)
			}
			return w.Flush()
		}),
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file or device value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			data, err := fuseview.Render(ctx, s.kernel, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Describe a path",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			st, ok := s.kernel.Stat(ctx, args[0])
			if !ok {
				return errno.ENOENT.Err("stat", args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
			fmt.Fprintf(w, "Path:\t%s\n", st.Path)
			fmt.Fprintf(w, "Kind:\t%s\n", st.Kind)
			switch st.Kind {
			case vfs.KindFile:
				fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanize.Bytes(uint64(st.Size)), st.Size)
			case vfs.KindDirectory:
				fmt.Fprintf(w, "Entries:\t%d\n", len(st.Children))
			case vfs.KindSymlink:
				fmt.Fprintf(w, "Target:\t%s\n", st.Target)
			}
			if st.Kind != vfs.KindDevice {
				fmt.Fprintf(w, "Created:\t%s\n", humanizeTime(st.CreatedAt))
				fmt.Fprintf(w, "Modified:\t%s\n", humanizeTime(st.UpdatedAt))
			}
			return w.Flush()
		}),
	}
}

func newWriteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write <path> <value>",
		Short: "Write a JSON value to a file or device",
		Long: `Write a value to a plain file, creating it when missing, or to a
writable device path. The value is parsed as JSON; anything that is not
valid JSON is written as a string.

Examples:
  charfs write /dev/ability/valeros/str 18
  charfs write /tmp/notes '{"session": 4}'`,
		Args: cobra.ExactArgs(2),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			path, value := args[0], parseValue(args[1])

			if !s.kernel.Exists(ctx, path) {
				if code := s.kernel.Create(ctx, path, value); code != errno.SUCCESS {
					return code.Err("create", path)
				}
				return nil
			}

			fd := s.kernel.Open(ctx, path, vfs.ModeWrite)
			if !fd.OK() {
				return fd.Code.Err("open", path)
			}
			defer s.kernel.Close(ctx, fd.Value)
			if code := s.kernel.Write(ctx, fd.Value, value); code != errno.SUCCESS {
				return code.Err("write", path)
			}
			return nil
		}),
	}
}

func newMkdirCmd(a *app) *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			if code := s.kernel.Mkdir(ctx, args[0], parents); code != errno.SUCCESS {
				return code.Err("mkdir", args[0])
			}
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parents")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file, symlink or empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, s *session, _ *cobra.Command, args []string) error {
			if code := s.kernel.Unlink(ctx, args[0]); code != errno.SUCCESS {
				return code.Err("rm", args[0])
			}
			return nil
		}),
	}
}

// parseValue decodes raw as JSON, falling back to the string itself.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func humanizeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
