package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/infinity/lib/feed"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of the environment variables, INF_<flag>
	EnvPrefix = "inf"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds INF_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Feed client flags
// --------------------------------------------------------------------------

// SetupFeedClientFlags adds the flags needed to reach a serving engine
func SetupFeedClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("The timeout of a single push"))

	key = "feed-transport"
	cmd.PersistentFlags().String(key, "tcp", WrapString("Transport of the notice feed (tcp, unix)"))

	key = "feed-endpoint"
	cmd.PersistentFlags().String(key, "localhost:7170", WrapString("Address of the notice feed (host:port for tcp, a socket path for unix)"))

	key = "feed-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a push after transport errors"))
}

// GetFeedConfig reads the feed client configuration from viper
func GetFeedConfig() feed.Config {
	cfg := feed.DefaultConfig(viper.GetString("feed-endpoint"))
	cfg.Transport = viper.GetString("feed-transport")
	cfg.Timeout = viper.GetDuration("timeout")
	cfg.Retries = viper.GetInt("feed-retries")
	return cfg
}

// --------------------------------------------------------------------------
// Argument parsing
// --------------------------------------------------------------------------

// ParseIdentity parses a URN argument
func ParseIdentity(s string) (notice.Identity, error) {
	i := notice.Identity(strings.TrimSpace(s))
	if !i.Valid() {
		return "", fmt.Errorf("invalid identity %q (expected urn:<namespace>:<name>)", s)
	}
	return i, nil
}

// ParseParticipants parses a comma separated list of URNs. A leading '*'
// marks the leader, a trailing '?' an unconfirmed participant.
func ParseParticipants(s string) ([]notice.Participant, error) {
	var out []notice.Participant
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p := notice.Participant{Confirmed: true}
		if strings.HasPrefix(part, "*") {
			p.Leader = true
			part = part[1:]
		}
		if strings.HasSuffix(part, "?") {
			p.Confirmed = false
			part = part[:len(part)-1]
		}
		i, err := ParseIdentity(part)
		if err != nil {
			return nil, err
		}
		p.Identity = i
		out = append(out, p)
	}
	return out, nil
}

// ParseDate accepts RFC 3339 timestamps and "now"
func ParseDate(s string) (time.Time, error) {
	if s == "" || s == "now" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected RFC 3339 or now): %w", s, err)
	}
	return t, nil
}
