package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ccbell/internal/app"
	"ccbell/internal/config"
	"ccbell/internal/engine"

	"github.com/spf13/cobra"
)

func newHookCmd(o *rootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "hook [event-type]",
		Short: "Handle one event: read the hook payload on stdin, print the verdict",
		Long: `Reads a JSON hook payload from stdin, decides whether to notify and plays
the sound on allow. The verdict is printed to stdout as one JSON line.

The event type comes from the argument when given (stop, subagent_stop,
permission_prompt, idle_prompt, tool_use), otherwise from the payload.`,
		Example: `  echo '{"hook_event_name":"Stop","token_count":900}' | ccbell hook
  ccbell hook permission_prompt < /dev/null`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override := ""
			if len(args) == 1 {
				override = args[0]
			}
			a, err := app.New(cmd.Context(), o.configPath(), app.ModeHook)
			if err != nil {
				return err
			}
			defer a.Close()

			var out io.Writer = o.stdout
			if quiet {
				out = nil
			}
			_, err = a.HandleHook(cmd.Context(), override, o.stdin, out)
			return err
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the verdict")
	return cmd
}

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: HTTP event API, queued playback, config hot reload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), o.configPath(), app.ModeServe)
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show quiet-hours state and active cooldowns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), o.configPath(), app.ModeStatus)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now()
			st := a.Status(now)
			if asJSON {
				enc := json.NewEncoder(o.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(o.stdout, st, now, a.UsedDefaults())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStatus(w io.Writer, st engine.Status, now time.Time, defaults bool) {
	state := "enabled"
	if !st.Enabled {
		state = "disabled"
	}
	if defaults {
		state += " (default config)"
	}
	fmt.Fprintf(w, "ccbell:       %s\n", state)

	switch {
	case st.Window == "":
		fmt.Fprintln(w, "quiet hours:  off")
	case st.Quiet:
		fmt.Fprintf(w, "quiet hours:  active (%s)", st.Window)
	default:
		fmt.Fprintf(w, "quiet hours:  inactive (%s)", st.Window)
	}
	if st.Window != "" {
		if st.QuietNext != nil {
			fmt.Fprintf(w, ", changes in %s", st.QuietNext.Sub(now).Round(time.Minute))
		}
		fmt.Fprintln(w)
	}

	if len(st.Cooldowns) == 0 {
		fmt.Fprintln(w, "cooldowns:    none configured")
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tINTERVAL\tLAST ALLOWED\tREMAINING")
	for _, e := range st.Cooldowns {
		last := "never"
		if !e.LastAllowed.IsZero() {
			last = e.LastAllowed.Local().Format(time.DateTime)
		}
		rem := "-"
		if e.Remaining > 0 {
			rem = e.Remaining.Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.EventType, e.Interval, last, rem)
	}
	_ = tw.Flush()
}

func newValidateCmd(o *rootOptions) *cobra.Command {
	var printCfg bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and report the first problem by key path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := o.configPath()
			cfgm := config.NewConfigManager(path)
			cfg, err := cfgm.Parse()
			if err != nil {
				return err
			}
			if _, err := engine.Compile(cfg); err != nil {
				return err
			}
			if printCfg {
				b, err := config.MarshalYAML(cfg)
				if err != nil {
					return err
				}
				_, err = o.stdout.Write(b)
				return err
			}
			fmt.Fprintf(o.stdout, "config OK: %s (%d event types)\n", path, len(cfg.Events))
			return nil
		},
	}
	cmd.Flags().BoolVar(&printCfg, "print", false, "print the effective config as YAML")
	return cmd
}
