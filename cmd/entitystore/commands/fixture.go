package commands

import (
	"slices"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/teranos/entitystore/am"
	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/errors"
	"github.com/teranos/entitystore/fixture"
	"github.com/teranos/entitystore/storage"
)

// builderOptions maps the loaded configuration to builder options.
func builderOptions() ([]storage.Option, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return storage.OptionsFromConfig(cfg), nil
}

// loadFixture loads path with its own schema.
func loadFixture(path string, extra ...storage.Option) (*fixture.Loaded, error) {
	opts, err := builderOptions()
	if err != nil {
		return nil, err
	}
	l, err := fixture.Load(path, append(opts, extra...)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fixture")
	}
	return l, nil
}

// printCounts renders the entity count of every type held by r.
func printCounts(r storage.Reader) error {
	reg := r.Registry()
	rows := pterm.TableData{{"Type", "Entities"}}
	total := 0
	for _, t := range r.Types() {
		n := r.EntityCount(t)
		total += n
		rows = append(rows, []string{reg.Name(t), strconv.Itoa(n)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// printChanges renders the changes b recorded on top of baseline, per type.
func printChanges(b *storage.Builder, baseline storage.Reader) error {
	changes := b.CollectChanges(baseline)
	if len(changes) == 0 {
		pterm.Info.Println("No changes")
		return nil
	}
	reg := b.Registry()
	types := make([]entity.TypeID, 0, len(changes))
	for t := range changes {
		types = append(types, t)
	}
	slices.Sort(types)

	rows := pterm.TableData{{"Type", "Removed", "Replaced", "Added"}}
	for _, t := range types {
		counts := map[storage.ChangeKind]int{}
		for _, ch := range changes[t] {
			counts[ch.Kind]++
		}
		rows = append(rows, []string{
			reg.Name(t),
			strconv.Itoa(counts[storage.ChangeRemoved]),
			strconv.Itoa(counts[storage.ChangeReplaced]),
			strconv.Itoa(counts[storage.ChangeAdded]),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
