package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/feed"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Prints every notice of a journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tKIND\tNAME\tDEPENDANTS")
			err := journal.ReplayFile(context.Background(), path(), viper.GetBool("strict"), func(seq uint64, n notice.Notice) error {
				_, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", seq, n.Kind(), n.Name(), strings.Join(n.Dependants(), ","))
				return err
			})
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints record counts per notice kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := path()
			s, err := journal.Stat(context.Background(), p)
			if err != nil {
				return err
			}
			fmt.Printf("journal=%s, base=%d, records=%d, bytes=%d, compressed=%d, torn=%t\n", p, s.Base, s.Records, s.Bytes, s.Compressed, s.Torn)
			for _, k := range notice.Kinds {
				if c := s.Kinds[k]; c > 0 {
					fmt.Printf("  %-24s %d\n", k, c)
				}
			}
			return nil
		},
	}
	requeueCmd = &cobra.Command{
		Use:   "requeue",
		Short: "Pushes every notice of a journal to a serving engine (use with --dead)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client, err := feed.Dial(ctx, util.GetFeedConfig())
			if err != nil {
				return err
			}
			defer client.Close()

			var pushed, rejected int
			err = journal.ReplayFile(ctx, path(), viper.GetBool("strict"), func(seq uint64, n notice.Notice) error {
				if err := client.Push(ctx, n); err != nil {
					if !errors.Is(err, feed.ErrRejected) {
						return fmt.Errorf("pushing #%d %s: %w", seq, n.Name(), err)
					}
					fmt.Printf("#%d %s rejected: %v\n", seq, n.Name(), err)
					rejected++
					return nil
				}
				pushed++
				return nil
			})
			fmt.Printf("requeued %d notices, %d rejected\n", pushed, rejected)
			return err
		},
	}
)
