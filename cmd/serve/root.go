package serve

import (
	"strings"

	cmdUtil "github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/common"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.EngineConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the infinity engine",
		Long:    `Start the infinity engine with the specified configuration. The engine obtains the lease on the volume, loads the last snapshot, replays the journal and then accepts notices on the feed. The configuration can be set via command line flags or environment variables. The format of the environment variables is INF_<flag> (e.g. INF_DATA_DIR=/var/lib/infinity)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("Directory of the journal, the dead-letter journal and the heap snapshot"))

	key = "volume-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Directory holding the lease markers (master.txt, yield.txt), defaults to the data directory"))

	key = "lease-ttl"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long the lease stays valid without a heartbeat (default 15s)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of workers applying notices (default 2 x CPUs)"))

	key = "max-attempts"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Attempts per notice before it is dead-lettered (default 5)"))

	key = "graceful-timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long shutdown waits for running notices before cancelling them (default 5s)"))

	key = "force-timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How long shutdown waits after cancelling (default 5s)"))

	key = "journal"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Journal every accepted notice and replay the journal on start"))

	key = "journal-sync"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Fsync the journal after every notice, without it a journaled notice survives a crash of the process but not of the machine"))

	key = "codec"
	ServeCmd.PersistentFlags().String(key, "zstd", cmdUtil.WrapString("Compression of journal records and snapshots (none, zstd, lz4)"))

	key = "snapshot-interval"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("How often the heap is saved, 0 saves on shutdown only"))

	key = "feed-transport"
	ServeCmd.PersistentFlags().String(key, "tcp", cmdUtil.WrapString("Transport of the notice feed (tcp, unix)"))

	key = "feed-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:7170", cmdUtil.WrapString("The address on which the notice feed will listen (e.g. localhost:7170, /tmp/infinity.sock, ...), empty disables the feed"))

	key = "feed-timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Read and write deadline per frame on the feed (default 10s)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address serving /metrics and /debug/pprof (e.g. localhost:9170), empty disables it"))

	key = "source-dsn"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("SQLite database to backfill identities from (e.g. file:chat.db?mode=ro)"))

	key = "backfill"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated identities to backfill from the source after start"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the flags and environment variables into the engine configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	codec, err := util.ParseCodec(viper.GetString("codec"))
	if err != nil {
		return err
	}

	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.VolumeDir = viper.GetString("volume-dir")
	serveCmdConfig.LeaseTTL = viper.GetDuration("lease-ttl")
	serveCmdConfig.Workers = viper.GetInt("workers")
	serveCmdConfig.MaxAttempts = viper.GetInt("max-attempts")
	serveCmdConfig.GracefulTimeout = viper.GetDuration("graceful-timeout")
	serveCmdConfig.ForceTimeout = viper.GetDuration("force-timeout")
	serveCmdConfig.Journal = viper.GetBool("journal")
	serveCmdConfig.JournalSync = viper.GetBool("journal-sync")
	serveCmdConfig.Codec = codec
	serveCmdConfig.SnapshotInterval = viper.GetDuration("snapshot-interval")
	serveCmdConfig.FeedTransport = viper.GetString("feed-transport")
	serveCmdConfig.FeedEndpoint = viper.GetString("feed-endpoint")
	serveCmdConfig.FeedTimeout = viper.GetDuration("feed-timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.SourceDSN = viper.GetString("source-dsn")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Backfill = nil
	for _, s := range strings.Split(viper.GetString("backfill"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		i, err := cmdUtil.ParseIdentity(s)
		if err != nil {
			return err
		}
		serveCmdConfig.Backfill = append(serveCmdConfig.Backfill, string(i))
	}
	if len(serveCmdConfig.Backfill) > 0 && serveCmdConfig.SourceDSN == "" {
		return errNoSource
	}

	_, err = common.ParseLogLevel(serveCmdConfig.LogLevel)
	return err
}
