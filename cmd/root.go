package cmd

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/ValentinKolb/infinity/cmd/journal"
	"github.com/ValentinKolb/infinity/cmd/notice"
	"github.com/ValentinKolb/infinity/cmd/query"
	"github.com/ValentinKolb/infinity/cmd/serve"
	"github.com/ValentinKolb/infinity/lib/attr"
	qlib "github.com/ValentinKolb/infinity/lib/query"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "infinity",
		Short: "message indexing and query engine",
		Long: fmt.Sprintf(`infinity (v%s)

An engine indexing chat messages from a feed of change notices and
answering queries over them, newest first.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of infinity",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("infinity v%s (%s, %s/%s)\n", Version, goVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}
	predicatesCmd = &cobra.Command{
		Use:   "predicates",
		Short: "List the query predicates and attributes",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("predicates:")
			for _, name := range qlib.DefaultRegistry().Names() {
				fmt.Printf("  (%s ...)\n", name)
			}
			fmt.Println("attributes:")
			for _, a := range attr.Known() {
				fmt.Printf("  $%s\n", a)
			}
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(query.QueryCmd)
	RootCmd.AddCommand(journal.JournalCommands)
	RootCmd.AddCommand(notice.NoticeCommands)
	RootCmd.AddCommand(predicatesCmd)
	RootCmd.AddCommand(versionCmd)
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return runtime.Version()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
