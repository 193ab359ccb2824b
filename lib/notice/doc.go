/*
Package notice defines the change events the engine indexes and their binary
wire format.

A Notice is a closed sum: the Kind enum names every variant and each variant
is its own struct. Code that handles notices switches on the concrete type (or
on Kind) and the codec refuses kinds it does not know.

	n := &notice.MessagePosted{Message: m, Bout: b}
	data, err := notice.Marshal(n)
	...
	back, err := notice.Unmarshal(data)

Wire format, all integers big-endian:

	uint16 len | discriminator          ("message posted", ...)
	variant fields in declaration order:
	  int64                              numbers and dates (unix milliseconds)
	  uint16 len | bytes                 names, titles, URNs
	  uint32 len | bytes                 message text
	  byte                               booleans (0 or 1)
	  uint16 count | entries             participant lists
*/
package notice
