package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lgc202/gemkit/gem"
)

func parseRole(s string) (gem.Role, error) {
	r := gem.Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func newSendCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "send <prompt>",
		Short: "Send a prompt and print the complete answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			settings, err := a.settings()
			if err != nil {
				return err
			}
			s, err := a.newSession(nil)
			if err != nil {
				return err
			}
			resp, err := s.Send(cmd.Context(), strings.Join(args, " "), r, settings)
			if err != nil {
				return err
			}
			return render(a.stdout, a.output, resp, func(w io.Writer) error {
				for _, text := range resp.Results() {
					if _, err := fmt.Fprintln(w, text); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(gem.RoleUser), "role of the prompt: user, model or system")
	return cmd
}

func newStreamCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "stream <prompt>",
		Short: "Send a prompt and print the answer as it arrives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			settings, err := a.settings()
			if err != nil {
				return err
			}
			s, err := a.newSession(nil)
			if err != nil {
				return err
			}
			st, err := s.SendStream(cmd.Context(), strings.Join(args, " "), r, settings)
			if err != nil {
				return err
			}
			return a.printStream(st)
		},
	}
	cmd.Flags().StringVar(&role, "role", string(gem.RoleUser), "role of the prompt: user, model or system")
	return cmd
}

// printStream writes fragments as they arrive: raw text, or one JSON or
// YAML document per fragment. Per-fragment errors are logged and skipped.
func (a *app) printStream(st *gem.Stream) error {
	text := a.output == "text"
	for resp, err := range st.All() {
		if err != nil {
			if isFatal(err) {
				if text {
					fmt.Fprintln(a.stdout)
				}
				return err
			}
			a.logger.Warn("fragment skipped", "error", err)
			continue
		}
		if text {
			fmt.Fprint(a.stdout, resp.Text())
			continue
		}
		if err := render(a.stdout, a.output, resp, nil); err != nil {
			return err
		}
	}
	if text {
		fmt.Fprintln(a.stdout)
	}
	return nil
}

func isFatal(err error) bool {
	var se *gem.StreamError
	var te *gem.TransportError
	return errors.As(err, &se) || errors.As(err, &te)
}
