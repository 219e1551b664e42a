// Package sanitize strips markup and script vectors from request data.
//
// Request bodies and query strings are parsed into [Value], a tagged union of
// null, bool, number, string, array and object. [Walk] rebuilds a Value
// through a [Visitor] that sees every leaf; [Clean] applies the string
// pipeline to every string leaf and leaves other leaves untouched.
//
// The string pipeline removes <script> blocks, javascript: schemes, inline
// event-handler attributes and angle brackets, then trims whitespace. It is
// repeated until the string stops changing, so Clean(Clean(v)) == Clean(v).
//
// Object member order and number literals survive a parse/encode round trip.
package sanitize
