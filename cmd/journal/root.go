package journal

import (
	"path/filepath"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/common"
	"github.com/ValentinKolb/infinity/lib/journal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// JournalCommands represents the journal command group
var JournalCommands = &cobra.Command{
	Use:   "journal",
	Short: "Inspect notice journals and requeue dead letters",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return util.BindCommandFlags(cmd)
	},
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "data-dir"
	JournalCommands.PersistentFlags().String(key, "data", util.WrapString("Directory of the journals"))
	key = "dead"
	JournalCommands.PersistentFlags().Bool(key, false, util.WrapString("Use the dead-letter journal instead of the notice journal"))
	key = "file"
	JournalCommands.PersistentFlags().String(key, "", util.WrapString("Path of a journal file, overrides --data-dir and --dead"))
	key = "strict"
	JournalCommands.PersistentFlags().Bool(key, false, util.WrapString("Fail on a torn tail instead of ignoring it"))

	util.SetupFeedClientFlags(requeueCmd)

	JournalCommands.AddCommand(dumpCmd)
	JournalCommands.AddCommand(statsCmd)
	JournalCommands.AddCommand(requeueCmd)
}

// path returns the journal file selected by the flags
func path() string {
	if f := viper.GetString("file"); f != "" {
		return f
	}
	name := common.JournalFile
	if viper.GetBool("dead") {
		name = journal.DeadLetterFile
	}
	return filepath.Join(viper.GetString("data-dir"), name)
}
