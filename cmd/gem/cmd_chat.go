package main

import (
	"bufio"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/lgc202/gemkit/gem"
)

const chatHelp = `/history  print the conversation
/reset    forget the conversation
/exit     quit`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively, streaming each answer",
		Long: "Chat interactively, streaming each answer.\n\n" + chatHelp + "\n\n" +
			"Settings are re-read when the config file changes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			first, err := a.settings()
			if err != nil {
				return err
			}
			var settings atomic.Pointer[gem.Settings]
			settings.Store(first)
			a.cfg.OnChange(func(_, next cliConfig) {
				s, err := settingsFrom(next.Settings)
				if err != nil {
					a.logger.Warn("settings not reloaded", "error", err)
					return
				}
				settings.Store(s)
				a.logger.Info("settings reloaded")
			})

			hist := gem.NewContext()
			s, err := a.newSession(hist)
			if err != nil {
				return err
			}

			in := bufio.NewScanner(a.stdin)
			for {
				fmt.Fprint(a.stdout, "> ")
				if !in.Scan() {
					fmt.Fprintln(a.stdout)
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					hist.Reset()
					continue
				case "/history":
					for _, t := range hist.Turns() {
						fmt.Fprintf(a.stdout, "%s: %s\n", t.Role, t.Text)
					}
					continue
				case "/help":
					fmt.Fprintln(a.stdout, chatHelp)
					continue
				}

				st, err := s.SendStream(cmd.Context(), line, gem.RoleUser, settings.Load())
				if err != nil {
					fmt.Fprintln(a.stderr, "error:", err)
					continue
				}
				if err := a.printStream(st); err != nil {
					fmt.Fprintln(a.stderr, "error:", err)
				}
			}
		},
	}
}
