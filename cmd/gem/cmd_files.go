package main

import (
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/lgc202/gemkit/gem"
)

func newFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage uploaded files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List uploaded files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := a.newSession(nil)
				if err != nil {
					return err
				}
				files, err := s.Files().List(cmd.Context())
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, files, func(w io.Writer) error {
					return writeFiles(w, files)
				})
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Show one file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.newSession(nil)
				if err != nil {
					return err
				}
				f, err := s.Files().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(a.stdout, a.output, f, func(w io.Writer) error {
					return writeFiles(w, []gem.File{*f})
				})
			},
		},
		&cobra.Command{
			Use:   "delete <name>...",
			Short: "Delete files",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.newSession(nil)
				if err != nil {
					return err
				}
				fm := s.Files()
				for _, name := range args {
					if err := fm.Delete(cmd.Context(), name); err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, "deleted", name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every uploaded file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := a.newSession(nil)
				if err != nil {
					return err
				}
				n, err := s.Files().Clear(cmd.Context())
				fmt.Fprintf(a.stdout, "deleted %d files\n", n)
				return err
			},
		},
	)
	return cmd
}

func writeFiles(w io.Writer, files []gem.File) error {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("NAME", "DISPLAY NAME", "MIME TYPE", "SIZE", "STATE", "EXPIRES")
	for _, f := range files {
		expires := ""
		if !f.ExpirationTime.IsZero() {
			expires = f.ExpirationTime.Local().Format("2006-01-02 15:04")
		}
		table.AddRow(f.Name, f.DisplayName, f.MIMEType, f.SizeBytes, f.State, expires)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}
