package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/entitystore/am"
	"github.com/teranos/entitystore/cmd/entitystore/commands"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage"
)

var rootCmd = &cobra.Command{
	Use:   "entitystore",
	Short: "entitystore - transactional entity graph store tooling",
	Long: `entitystore - inspect and merge entity graph fixtures.

Fixtures are YAML files of entities whose types and connections are
declared in a TOML schema file.

Available commands:
  am      - Show and validate configuration ("I am")
  check   - Load a fixture and run the consistency checker
  digest  - Print the Merkle digest of a fixture
  rbs     - Replace the entities of some sources with those of another fixture
  diff    - Apply a fixture as a diff on top of a base fixture
  version - Show build information

Examples:
  entitystore check project.yaml
  entitystore rbs --source gradle project.yaml gradle-sync.yaml
  entitystore -v diff project.yaml libraries.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		// -v flags override the configured level
		level := logger.ParseLevel(cfg.Log.Level)
		if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
			level = logger.VerbosityToLevel(verbosity)
		}
		if err := logger.InitializeWithLevel(cfg.Log.JSON, level); err != nil {
			return errors.Wrap(err, "failed to initialize logger")
		}

		storage.RegisterModeProvider(storage.ConfigModeProvider{Config: cfg})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.DigestCmd)
	rootCmd.AddCommand(commands.RbsCmd)
	rootCmd.AddCommand(commands.DiffCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
