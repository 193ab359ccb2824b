/*
Package feed carries notices from producers to a running engine over tcp or
unix sockets.

Every request and every response is one frame:

	8 bytes  request id (uint64, big endian)
	4 bytes  payload length (uint32, big endian)
	N bytes  payload

A request payload is one notice in the notice.Marshal form. The response
payload is a Status byte, followed by the error text for anything but
StatusOK. Responses carry the id of their request and may arrive out of
order, so one connection can have many pushes in flight.

Server side:

	srv, _ := feed.NewServer(feed.DefaultConfig(":7700"), engine)
	if err := srv.Start(); err != nil { ... }
	defer srv.Close()

Client side:

	c, err := feed.Dial(ctx, feed.DefaultConfig("localhost:7700"))
	err = c.Push(ctx, &notice.AliasAdded{Identity: "urn:user:alice", Alias: "ali"})
	if errors.Is(err, feed.ErrRejected) {
		// the notice is invalid, resending does not help
	}
*/
package feed
