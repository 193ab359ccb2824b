/*
Package infinity is the engine facade: it takes notices, indexes the
messages they describe and answers queries over them.

Everything the engine depends on is passed in one Context:

	j, _ := journal.Open(filepath.Join(dir, "notices.jrnl"), journal.DefaultOptions())
	inf, err := infinity.New(&infinity.Context{
		Journal:          j,
		SnapshotPath:     filepath.Join(dir, "heap.snap"),
		SnapshotInterval: time.Minute,
		Mux:              mux.DefaultOptions(),
	})
	if err != nil { ... }
	defer inf.Close()

	_ = inf.See(&notice.MessagePosted{Message: m, Bout: b})

	numbers, err := inf.Messages("(and (talks-with 'urn:user:alice') (limit 20))")
	for n := range numbers {
		fmt.Println(n)
	}

See is asynchronous. The notice is journaled, queued and applied by the
mux workers later, Eta estimates how long that takes for one identity. New
loads the snapshot and replays the journal on top of it, applying a notice
twice leaves the index unchanged.
*/
package infinity
