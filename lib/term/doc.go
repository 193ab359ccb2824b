// Package term compiles predicates into cursor-shifting terms.
//
// A Cursor is an immutable position in the descending message space: a
// message number, or END. A Term moves a cursor to the largest matching
// number strictly below it. Repeated shifting therefore visits matches from
// the newest to the oldest and terminates at END, which cannot be shifted.
//
// Every term owns a lattice.Lattice, built lazily on first use, that tells it
// which buckets of numbers cannot contain a match. Composite terms correct
// the cursor through their lattice before evaluating their children.
//
// Stateful terms (limit, from, unique, bundled, pos) are volatile: their
// answer depends on what was accepted before, so they are never cached and
// within an and-term they run as filters after the stable children agreed on
// a candidate.
package term
