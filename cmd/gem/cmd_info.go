package main

import (
	"fmt"
	"io"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/lgc202/gemkit/gem"
	"github.com/lgc202/gemkit/version"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the supported models",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			current := a.cfg.Get().Model
			if a.model != "" {
				current = a.model
			}
			models := gem.Models()
			return render(a.stdout, a.output, models, func(w io.Writer) error {
				table := uitable.New()
				table.AddRow("MODEL", "SELECTED")
				for _, m := range models {
					mark := ""
					if m.String() == current {
						mark = "*"
					}
					table.AddRow(m, mark)
				}
				_, err := fmt.Fprintln(w, table)
				return err
			})
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			format := a.output
			if short {
				format = "short"
			}
			out, err := version.Get().Render(format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, out)
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print the version only")
	return cmd
}
