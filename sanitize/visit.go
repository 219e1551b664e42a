package sanitize

import "encoding/json"

// Visitor receives every leaf of a Value during [Walk] and returns its
// replacement. Arrays and objects are rebuilt from the visited children.
type Visitor interface {
	VisitNull() Value
	VisitBool(b bool) Value
	VisitNumber(n json.Number) Value
	VisitString(s string) Value
}

// Walk rebuilds v depth-first through vis.
func Walk(v Value, vis Visitor) Value {
	switch v.kind {
	case KindNull:
		return vis.VisitNull()
	case KindBool:
		return vis.VisitBool(v.boolean)
	case KindNumber:
		return vis.VisitNumber(v.number)
	case KindString:
		return vis.VisitString(v.str)
	case KindArray:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = Walk(item, vis)
		}
		return Array(items...)
	case KindObject:
		members := make([]Member, len(v.members))
		for i, m := range v.members {
			members[i] = Member{Key: m.Key, Value: Walk(m.Value, vis)}
		}
		return Object(members...)
	}
	return v
}

// StringVisitor rewrites string leaves and keeps every other leaf.
type StringVisitor func(string) string

func (f StringVisitor) VisitNull() Value                { return Null() }
func (f StringVisitor) VisitBool(b bool) Value          { return Bool(b) }
func (f StringVisitor) VisitNumber(n json.Number) Value { return Number(n) }
func (f StringVisitor) VisitString(s string) Value      { return String(f(s)) }
