package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/export"
)

var dumpAll bool

var dumpCmd = &cobra.Command{
	Use:   "dump <file.arena>",
	Short: "Print the items of an arena file",
	Long: `Map an arena file written with assemble --arena-file and print one line
per area and problem item. With --all other item types are listed too.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "Also list items other than areas and problems")
}

func runDump(cmd *cobra.Command, args []string) error {
	buf, err := arena.OpenMapped(args[0])
	if err != nil {
		return err
	}
	defer buf.Close()

	w := bufio.NewWriter(cmd.OutOrStdout())
	counts := make(map[arena.ItemType]int)
	it := buf.View().Iterator()
	for it.Next() {
		item := it.Item()
		counts[item.Type()]++
		if !dumpAll && item.Type() != arena.TypeArea && item.Type() != arena.TypeProblem {
			continue
		}
		line, err := export.Describe(item)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, line)
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Fprintf(w, "# %d bytes, %d areas, %d problems\n",
		buf.Committed(), counts[arena.TypeArea], counts[arena.TypeProblem])
	return w.Flush()
}
