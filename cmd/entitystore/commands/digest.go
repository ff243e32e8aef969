package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/entitystore/digest"
	"github.com/teranos/entitystore/storage"
)

// DigestCmd prints the Merkle digest of a fixture
var DigestCmd = &cobra.Command{
	Use:   "digest <fixture>",
	Short: "Print the Merkle digest of a fixture",
	Long: `Print the Merkle root of a fixture. Entities are grouped by type and
source, references by connection; ids do not take part, so two fixtures
describing the same graph share a root.

Examples:
  entitystore digest project.yaml
  entitystore digest --groups project.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDigest,
}

var digestGroups bool

func init() {
	DigestCmd.Flags().BoolVar(&digestGroups, "groups", false, "List the digest groups")
}

func runDigest(cmd *cobra.Command, args []string) error {
	l, err := loadFixture(args[0])
	if err != nil {
		return err
	}
	tree := storage.Digest(l.Builder)
	fmt.Fprintln(cmd.OutOrStdout(), digest.HexHash(tree.Root()))
	if !digestGroups {
		return nil
	}

	rows := pterm.TableData{{"Type", "Source"}}
	for _, g := range tree.Groups() {
		rows = append(rows, []string{g.Type, g.Source})
	}
	pterm.Info.Printf("%d groups, %d leaves\n", tree.GroupCount(), tree.Size())
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// printDigestDiff lists the groups that differ between a and b.
func printDigestDiff(a, b storage.Reader) error {
	groups := storage.DigestDiff(a, b)
	if len(groups) == 0 {
		pterm.Success.Println("Graphs are identical")
		return nil
	}
	rows := pterm.TableData{{"Differing group", "Source"}}
	for _, g := range groups {
		rows = append(rows, []string{g.Type, g.Source})
	}
	pterm.Warning.Println(strconv.Itoa(len(groups)) + " digest groups differ")
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
