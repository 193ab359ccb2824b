package notice

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/infinity/cmd/util"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/spf13/cobra"
)

var (
	postCmd = &cobra.Command{
		Use:   "post [number] [author] [text]",
		Short: "Announces a new message in a bout",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseNumber("number", args[0])
			if err != nil {
				return err
			}
			author, err := util.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			date, err := util.ParseDate(flagString(cmd, "date"))
			if err != nil {
				return err
			}
			b, err := boutFromFlags(cmd)
			if err != nil {
				return err
			}
			n := &notice.MessagePosted{
				Message: notice.Message{Number: number, Author: author, Text: args[2], Date: date},
				Bout:    b,
			}
			return report(n, push(n))
		},
	}
	seenCmd = &cobra.Command{
		Use:   "seen [number] [identity]",
		Short: "Announces that an identity has read a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseNumber("number", args[0])
			if err != nil {
				return err
			}
			identity, err := util.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			// only the number is used by the index, the author is required
			// to make the message valid
			n := &notice.MessageSeen{
				Message:  notice.Message{Number: number, Author: identity},
				Identity: identity,
			}
			return report(n, push(n))
		},
	}
	aliasCmd = &cobra.Command{
		Use:   "alias [identity] [alias]",
		Short: "Announces a new alias of an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := util.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			n := &notice.AliasAdded{Identity: identity, Alias: args[1]}
			return report(n, push(n))
		},
	}
	renameCmd = &cobra.Command{
		Use:   "rename [bout] [title]",
		Short: "Announces a new title of a bout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := boutArg(cmd, args[0])
			if err != nil {
				return err
			}
			b.Title = args[1]
			n := &notice.BoutRenamed{Bout: b}
			return report(n, push(n))
		},
	}
	kickCmd = &cobra.Command{
		Use:   "kick [bout] [identity]",
		Short: "Announces that an identity left a bout (--participants lists the remaining ones)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := boutArg(cmd, args[0])
			if err != nil {
				return err
			}
			identity, err := util.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			n := &notice.KickOff{Bout: b, Identity: identity}
			return report(n, push(n))
		},
	}
	joinCmd = &cobra.Command{
		Use:   "join [bout] [identity]",
		Short: "Announces that an identity confirmed its participation (--participants includes it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := boutArg(cmd, args[0])
			if err != nil {
				return err
			}
			identity, err := util.ParseIdentity(args[1])
			if err != nil {
				return err
			}
			n := &notice.Join{Bout: b, Identity: identity}
			return report(n, push(n))
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{postCmd, renameCmd, kickCmd, joinCmd} {
		cmd.Flags().String("participants", "", util.WrapString("Comma-separated participant URNs, '*urn' marks the leader, 'urn?' an unconfirmed one"))
	}
	postCmd.Flags().Int64("bout", 0, util.WrapString("Number of the bout the message is posted in"))
	postCmd.Flags().String("title", "", util.WrapString("Title of the bout"))
	postCmd.Flags().String("date", "now", util.WrapString("Date of the message (RFC 3339 or now)"))
	_ = postCmd.MarkFlagRequired("bout")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func parseNumber(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", name, err)
	}
	return n, nil
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

// boutFromFlags builds the bout of a post from --bout, --title and
// --participants
func boutFromFlags(cmd *cobra.Command) (notice.Bout, error) {
	number, _ := cmd.Flags().GetInt64("bout")
	participants, err := util.ParseParticipants(flagString(cmd, "participants"))
	if err != nil {
		return notice.Bout{}, err
	}
	return notice.Bout{Number: number, Title: flagString(cmd, "title"), Participants: participants}, nil
}

// boutArg builds a bout from a number argument and --participants
func boutArg(cmd *cobra.Command, arg string) (notice.Bout, error) {
	number, err := parseNumber("bout", arg)
	if err != nil {
		return notice.Bout{}, err
	}
	participants, err := util.ParseParticipants(flagString(cmd, "participants"))
	if err != nil {
		return notice.Bout{}, err
	}
	return notice.Bout{Number: number, Participants: participants}, nil
}

func report(n notice.Notice, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("%s accepted\n", n.Name())
	return nil
}
