package commands

import (
	"slices"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/storage"
)

// RbsCmd runs replace-by-source between two fixtures
var RbsCmd = &cobra.Command{
	Use:   "rbs <target> <replacement>",
	Short: "Replace the entities of some sources with those of another fixture",
	Long: `Load both fixtures over the target's schema and replace every target
entity whose source is listed in --source with the replacement's entities of
those sources. Entities found on both sides keep their ids; entities of other
sources are kept.

Examples:
  entitystore rbs --source gradle project.yaml gradle-sync.yaml
  entitystore rbs --source gradle,maven --engine tree project.yaml sync.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runRbs,
}

var (
	rbsSources []string
	rbsEngine  string
)

func init() {
	RbsCmd.Flags().StringSliceVar(&rbsSources, "source", nil, "Sources to replace (required)")
	RbsCmd.Flags().StringVar(&rbsEngine, "engine", "", "Replace-by-source engine: graph or tree (default from config)")
	_ = RbsCmd.MarkFlagRequired("source")
}

func runRbs(cmd *cobra.Command, args []string) error {
	var extra []storage.Option
	if rbsEngine != "" {
		extra = append(extra, storage.WithEngine(storage.Engine(rbsEngine)))
	}
	target, err := loadFixture(args[0], extra...)
	if err != nil {
		return err
	}
	replacement, err := target.Schema.LoadWith(args[1])
	if err != nil {
		return errors.Wrap(err, "failed to load replacement")
	}

	filter := func(src entity.Source) bool {
		return src != nil && slices.Contains(rbsSources, src.String())
	}
	baseline := target.Builder.ToSnapshot()
	target.Builder.ResetChanges()

	if rbsEngine == string(storage.EngineTree) {
		report, err := target.Builder.ReplaceBySourceAsTree(filter, replacement.Builder)
		if err != nil {
			return err
		}
		if err := printTreeReport(target.Builder, report); err != nil {
			return err
		}
	} else if err := target.Builder.ReplaceBySource(filter, replacement.Builder); err != nil {
		return err
	}

	if err := printChanges(target.Builder, baseline); err != nil {
		return err
	}

	want, err := onlySources(replacement.Builder, filter)
	if err != nil {
		return err
	}
	got, err := onlySources(target.Builder, filter)
	if err != nil {
		return err
	}
	return printDigestDiff(want, got)
}

// onlySources copies the entities of r whose source passes filter into a
// fresh builder.
func onlySources(r storage.Reader, filter func(entity.Source) bool) (storage.Reader, error) {
	b := storage.NewBuilder(r.Registry(), storage.WithConsistencyMode(storage.ModeDisabled))
	if err := b.ReplaceBySource(filter, r); err != nil {
		return nil, errors.Wrap(err, "failed to filter sources")
	}
	return b, nil
}

func printTreeReport(r storage.Reader, report *storage.TreeReport) error {
	rows := pterm.TableData{{"Entity", "Decision", "Key"}}
	ids := make([]entity.EntityID, 0, len(report.Target))
	for id := range report.Target {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		st := report.Target[id]
		rows = append(rows, []string{r.Registry().Name(id.Type()) + " " + id.String(), st.Kind.String(), st.Key})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
