package notice

import (
	"context"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/feed"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	client *feed.Client

	// NoticeCommands represents the notice command group
	NoticeCommands = &cobra.Command{
		Use:                "notice",
		Short:              "Push notices to a serving engine",
		PersistentPreRunE:  setupFeedClient,
		PersistentPostRunE: closeFeedClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupFeedClientFlags(NoticeCommands)

	NoticeCommands.AddCommand(postCmd)
	NoticeCommands.AddCommand(seenCmd)
	NoticeCommands.AddCommand(aliasCmd)
	NoticeCommands.AddCommand(renameCmd)
	NoticeCommands.AddCommand(kickCmd)
	NoticeCommands.AddCommand(joinCmd)
	NoticeCommands.AddCommand(perfTestCmd)
}

// setupFeedClient dials the feed of the engine
func setupFeedClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	var err error
	client, err = feed.Dial(context.Background(), util.GetFeedConfig())
	return err
}

func closeFeedClient(_ *cobra.Command, _ []string) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// push sends n bounded by the configured timeout
func push(n notice.Notice) error {
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()
	return client.Push(ctx, n)
}
