// Package attr defines the property model the index is built from.
//
// An Attribute names one indexed property of a message, for example "text",
// "author.name" or "bout.title". A Msg is the record kept for one message
// number and maps attributes to Values. A Value is a small set of strings
// with future-like read semantics: Get blocks until a value has been put or
// the caller's context is done, because messages are indexed asynchronously
// while queries may already be looking at them.
//
// Every mutation of a Msg is reported to its Listener while the Value is still
// locked, so a listener (the heap's inverted postings) always observes changes
// to one attribute in the order they were applied.
package attr
