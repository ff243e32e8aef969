package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/fixture"
)

// DiffCmd applies a fixture as a diff on top of a base fixture
var DiffCmd = &cobra.Command{
	Use:   "diff <base> <fixture>",
	Short: "Apply a fixture as a diff on top of a base fixture",
	Long: `Load the base fixture, record the entities of the second fixture in a
builder started from the base snapshot and merge that builder back with
add-diff. Symbolic id collisions evict the base entity and are reported.

Examples:
  entitystore diff project.yaml libraries.yaml
  entitystore -v diff project.yaml libraries.yaml   # log merge summaries`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	base, err := loadFixture(args[0])
	if err != nil {
		return err
	}
	f, err := fixture.Open(args[1])
	if err != nil {
		return err
	}
	opts, err := builderOptions()
	if err != nil {
		return err
	}

	baseline := base.Builder.ToSnapshot()
	diff := baseline.ToBuilder(opts...)
	if _, err := base.Schema.Build(f, diff); err != nil {
		return errors.Wrap(err, "failed to build diff")
	}

	base.Builder.ResetChanges()
	if err := base.Builder.AddDiff(diff); err != nil {
		return err
	}
	if base.Builder.IsBroken() {
		pterm.Warning.Println("Merge left the storage broken; see the logged reports")
	}
	return printChanges(base.Builder, baseline)
}
