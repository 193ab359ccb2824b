// Package source provides the collaborators the engine backfills from: the
// system of record for bouts, participants and messages.
package source

import (
	"context"
	"errors"

	"github.com/ValentinKolb/infinity/lib/notice"
)

// ErrNotFound is returned for unknown bouts and messages
var ErrNotFound = errors.New("not found")

// ISource answers the fetches a backfill needs.
type ISource interface {
	// BoutMessages returns the message numbers of a bout, newest first.
	BoutMessages(ctx context.Context, bout int64) ([]int64, error)
	// IdentityBouts returns the bouts an identity takes part in.
	IdentityBouts(ctx context.Context, identity notice.Identity) ([]int64, error)
	// Message returns one message.
	Message(ctx context.Context, number int64) (notice.Message, error)
	// Bout returns one bout with its participants.
	Bout(ctx context.Context, number int64) (notice.Bout, error)
}
