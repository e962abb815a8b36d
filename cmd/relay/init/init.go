// Package initcmder provides the init command for initializing a local .relay
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const (
	dirName = ".relay"
)

const initLongDesc string = `Initialize a new .relay/ directory in the current working directory.

Creates a local .relay/ directory with a config.toml that takes precedence
over the default ~/.relay/ directory. An existing config.toml is left as is.

Use --preset to start from a known upstream:
  deepseek    https://api.deepseek.com/v1 (OpenAI-compatible, the default)
  openai      https://api.openai.com/v1
  anthropic   https://api.anthropic.com

Examples:
  relay init
  relay init --preset anthropic`

const initShortDesc string = "Initialize a local .relay/ directory"

type initCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "", "Upstream preset (deepseek, openai, anthropic)")

	return cmd
}

func (c *initCommander) run(w io.Writer) error {
	cfg := config.NewDefaultConfig()
	if c.preset != "" {
		var err error
		cfg, err = config.PresetConfig(c.preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	var cfger *config.Configer
	err = cliui.Step(w, "Creating "+dir, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .relay directory: %w", err)
		}

		var err error
		cfger, err = config.NewConfiger(dir)
		return err
	})
	if err != nil {
		return err
	}

	_, err = os.Stat(cfger.GetTarget())
	switch {
	case err == nil:
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("Already initialized: "+cfger.GetTarget()))
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("checking config: %w", err)
	}

	return cliui.Step(w, "Writing "+cfger.GetTarget(), func() error {
		return cfger.SaveConfig(cfg)
	})
}
