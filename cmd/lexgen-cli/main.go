// Command lexgen-cli validates configuration files, lists profiles and runs
// the legal-text formatting pass from the shell.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/direitopremium/lexgen"
	"github.com/direitopremium/lexgen/internal/cache"
	"github.com/direitopremium/lexgen/internal/legaltext"
	"github.com/direitopremium/lexgen/internal/version"
)

// errNeedsFormatting makes "format --check" exit non-zero.
var errNeedsFormatting = errors.New("article needs formatting")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lexgen-cli",
		Short:         "lexgen command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand(), newProfilesCommand(), newFormatCommand(), newVersionCommand())
	return root
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file (JSON, YAML or TOML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := lexgen.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := lexgen.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Config is valid")
			fmt.Fprintf(out, "  Providers: %d\n", len(cfg.Providers))
			fmt.Fprintf(out, "  Profiles:  %d\n", len(cfg.Profiles))
			backend := string(cfg.Cache.Backend)
			if backend == "" {
				backend = string(lexgen.CacheMemory)
			}
			fmt.Fprintf(out, "  Cache:     %s\n", backend)
			return nil
		},
	}
}

func newProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles <config-file>",
		Short: "List the generation profiles of a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := lexgen.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rows := make([][]string, 0, len(cfg.Profiles))
			for _, p := range cfg.Profiles {
				ttl := p.TTL.Std()
				if ttl <= 0 {
					ttl = cache.TextTTL
				}
				var extras []string
				if p.FormatLegalText {
					extras = append(extras, "legal-text")
				}
				if p.Schema != "" {
					extras = append(extras, "schema")
				}
				if p.UploadPrefix != "" {
					extras = append(extras, "upload:"+p.UploadPrefix)
				}
				rows = append(rows, []string{
					p.Name,
					string(p.Kind),
					strings.Join(p.Providers, " → "),
					ttl.String(),
					strings.Join(extras, ","),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Profile", "Kind", "Chain", "TTL", "Post-processing"}, rows, 3))
			return nil
		},
	}
}

func newFormatCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "format [file|-]",
		Short: "Reflow the line breaks of a legal article",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0]) //nolint:gosec
			}
			if err != nil {
				return fmt.Errorf("read article: %w", err)
			}
			// The file's final newline is not part of the article.
			text := strings.TrimSuffix(string(data), "\n")
			if check {
				if legaltext.NeedsFormatting(text) {
					return errNeedsFormatting
				}
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), legaltext.Format(text))
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Exit with status 1 if the article needs formatting")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "lexgen-cli %s\n", version.String())
			return nil
		},
	}
}
