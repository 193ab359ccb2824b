/*
Package query compiles predicate expressions into terms.

A query is an S-expression:

	(and (equal $bout.number 42) (matches 'hello' $text))

Arguments are single-quoted strings ('it\'s' escapes a quote), integers,
attribute references ($author.name) or nested expressions. Anything that does
not start with a parenthesis is a bare full-text query and is searched in the
message text, the bout title and the author aliases. The empty query matches
every message.

Predicates come from an explicit Registry. Each Predicate builds a term from
its arguments and may carry a See hook that keeps the attributes it queries
up to date when the store applies a notice.
*/
package query
