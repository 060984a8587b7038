// Package cli implements the ccbell command line.
package cli

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ccbell/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfgFile string
	envFile string

	stdin  io.Reader
	stdout io.Writer
}

// configPath resolves --config, then $CCBELL_CONFIG, then the default path.
func (o *rootOptions) configPath() string {
	if p := strings.TrimSpace(o.cfgFile); p != "" {
		return p
	}
	return config.DefaultPath()
}

// NewRootCmd builds the command tree. Streams are injectable for tests.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	o := &rootOptions{stdin: stdin, stdout: stdout}

	root := &cobra.Command{
		Use:   "ccbell",
		Short: "Audible notifications for coding-assistant events",
		Long: `ccbell decides, for each coding-assistant event (task stop, permission
prompt, idle prompt, ...), whether a sound should play. Decisions honor
per-event filters, quiet hours and cooldowns configured in
~/.ccbell/config.yaml.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.loadEnv()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&o.cfgFile, "config", "", "config file (default $CCBELL_CONFIG or ~/.ccbell/config.yaml)")
	root.PersistentFlags().StringVar(&o.envFile, "env-file", "", "dotenv file with CCBELL_* overrides (default ~/.ccbell/.env)")

	root.AddCommand(newHookCmd(o))
	root.AddCommand(newServeCmd(o))
	root.AddCommand(newStatusCmd(o))
	root.AddCommand(newValidateCmd(o))
	return root
}

// loadEnv reads dotenv overrides. Existing environment variables win.
func (o *rootOptions) loadEnv() error {
	path := strings.TrimSpace(o.envFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(config.Dir(), ".env")
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Execute runs the CLI against the process streams.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}
