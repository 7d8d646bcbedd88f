// Package filter implements the JSON-shaped filter language and compiles it
// into parameterized bun predicates, together with column projections.
//
// A filter is one element or an ordered list of elements. A list matches
// the rows matched by any of its elements. Within one element every field
// must match:
//
//	{"email": "a@x.com", "active": true}
//	{"age": {"$gte": 18, "$lt": 65}, "name": {"$like": "jo*"}}
//	[{"id": 1}, {"id": {"$in": [5, 6]}}]
//	{"$q": {"selectedFields": ["name", "email"], "value": "smith"}}
package filter
