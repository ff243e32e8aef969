package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/storage"
)

// CheckCmd loads a fixture and runs the consistency checker on it
var CheckCmd = &cobra.Command{
	Use:   "check <fixture>",
	Short: "Load a fixture and check its consistency",
	Long: `Load a fixture into a builder and run every consistency check:
family slots, reference symmetry, mandatory parents, symbolic id and
soft link indexes, and external mappings.

Examples:
  entitystore check project.yaml
  entitystore check --dump project.yaml   # also print the storage as YAML`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var checkDump bool

func init() {
	CheckCmd.Flags().BoolVar(&checkDump, "dump", false, "Print the loaded storage as YAML")
}

func runCheck(cmd *cobra.Command, args []string) error {
	l, err := loadFixture(args[0])
	if err != nil {
		return err
	}
	snap := l.Builder.ToSnapshot()

	if err := printCounts(snap); err != nil {
		return err
	}
	if checkDump {
		data, err := yaml.Marshal(storage.Dump(snap, 0))
		if err != nil {
			return errors.Wrap(err, "failed to marshal dump")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
	}

	if err := storage.CheckConsistency(cmd.Context(), snap); err != nil {
		pterm.Error.Println("Storage is inconsistent")
		return err
	}
	pterm.Success.Println("Storage is consistent")
	return nil
}
