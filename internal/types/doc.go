/*
Package types defines the core data structures shared by the engine, the
client facade and the command line tooling.

# Overview

The types package provides:
  - Request and Response values for a single HTTP/1.1 exchange
  - Headers, an ordered list of fields that keeps duplicate keys
  - ClientOptions and RequestOptions for construction and per-call settings
  - Endpoint, a resolved address candidate
  - RequestResult, the flattened view of an exchange used by output and history

# Headers

HTTP permits the same field name more than once (Set-Cookie is the usual
example), so Headers is a slice of HeaderField and never a map. Lookups are
case-insensitive; iteration order is arrival order.

	var h types.Headers
	h.Add("Accept", "text/plain")
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	h.Values("set-cookie") // ["a=1", "b=2"]

# Progress

RequestOptions.Progress is called with the cumulative byte count for each
direction. Counts never decrease.
*/
package types
