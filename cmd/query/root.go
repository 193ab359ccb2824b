package query

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/common"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/infinity"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// QueryCmd runs a query against a data directory without a serving engine
var QueryCmd = &cobra.Command{
	Use:   "query [query]",
	Short: "Run a query offline against a data directory",
	Long: `Load the heap snapshot of a data directory, replay its journal on top of it and print the message numbers matching the query, newest first. Nothing is written to the data directory.

Examples:
  infinity query "(and (equal $bout.number 42) (matches 'hello' $text))"
  infinity query --show hello`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
	RunE:    run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "data-dir"
	QueryCmd.Flags().String(key, "data", util.WrapString("Directory of the journal and the heap snapshot"))
	key = "snapshot"
	QueryCmd.Flags().Bool(key, true, util.WrapString("Load the heap snapshot before replaying the journal"))
	key = "strict"
	QueryCmd.Flags().Bool(key, false, util.WrapString("Fail on a torn journal tail instead of ignoring it"))
	key = "limit"
	QueryCmd.Flags().Int(key, 0, util.WrapString("Print at most this many numbers, 0 prints all"))
	key = "show"
	QueryCmd.Flags().Bool(key, false, util.WrapString("Print author, bout and text next to each number"))
	key = "log-level"
	QueryCmd.Flags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

func run(_ *cobra.Command, args []string) error {
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}
	q := ""
	if len(args) == 1 {
		q = args[0]
	}
	dir := viper.GetString("data-dir")
	start := time.Now()

	h := heap.New(nil)
	var meta heap.Meta
	if viper.GetBool("snapshot") {
		var err error
		if meta, err = loadSnapshot(h, filepath.Join(dir, common.SnapshotFile)); err != nil {
			return err
		}
	}

	inf, err := infinity.New(&infinity.Context{Heap: h})
	if err != nil {
		return err
	}
	defer inf.Close()

	ctx := context.Background()
	var replayed, failed int
	path := filepath.Join(dir, common.JournalFile)
	err = journal.ReplayFile(ctx, path, viper.GetBool("strict"), func(seq uint64, n notice.Notice) error {
		if seq <= meta.Journal {
			return nil
		}
		if err := inf.Store().See(ctx, n); err != nil {
			failed++
			return nil
		}
		replayed++
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	seq, err := inf.Messages(q)
	if err != nil {
		return err
	}

	limit := viper.GetInt("limit")
	show := viper.GetBool("show")
	count := 0
	for number := range seq {
		if show {
			fmt.Println(describe(h, number))
		} else {
			fmt.Println(number)
		}
		count++
		if limit > 0 && count >= limit {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "%d matches among %d messages (%d notices replayed, %d failed) in %s\n",
		count, h.Len(), replayed, failed, time.Since(start).Round(time.Millisecond))
	return nil
}

func loadSnapshot(h *heap.Heap, path string) (heap.Meta, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return heap.Meta{}, nil
	}
	if err != nil {
		return heap.Meta{}, err
	}
	defer f.Close()
	meta, err := h.Load(f)
	if err != nil {
		return heap.Meta{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return meta, nil
}

func describe(h *heap.Heap, number int64) string {
	m, ok := h.Lookup(number)
	if !ok {
		return fmt.Sprintf("%d", number)
	}
	author, _ := m.First(attr.AuthorName)
	bout, _ := m.First(attr.BoutNumber)
	text, _ := m.First(attr.Text)
	if r := []rune(text); len(r) > 60 {
		text = string(r[:57]) + "..."
	}
	return fmt.Sprintf("%-10d bout:%-8s %-24s %s", number, bout, author, strings.ReplaceAll(text, "\n", " "))
}
