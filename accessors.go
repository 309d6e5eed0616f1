// Copyright 2024 The mkv Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package mkv

// ChildValue looks up the last child of m named name and returns its
// value, or def if no such child exists (spec §9 "descriptor-style
// attribute access", §4.J). Masters have no Value; calling this on one of
// their children is the caller's responsibility to get right via schema.
func (m *Element) ChildValue(name string, def Value) (Value, bool) {
	cs := m.ChildrenNamed(name)
	if len(cs) == 0 {
		return def, false
	}
	return cs[len(cs)-1].Value(), true
}

// SetChildValue sets the value of m's last child named name, creating one
// from schema if none exists yet (spec §4.J).
func (m *Element) SetChildValue(schema *Schema, id ElementID, name string, v Value) error {
	cs := m.ChildrenNamed(name)
	if len(cs) > 0 {
		return cs[len(cs)-1].SetValue(v)
	}
	child := NewAtomic(id, schema, v)
	return m.AddChild(child)
}

// Title returns the segment Info's Title, the empty string if unset
// (spec §4.J mechanical accessor example).
func (info *Element) Title() string {
	v, _ := info.ChildValue("Title", Value{Kind: KindUnicode})
	return v.Str
}

// SetTitle sets the segment Info's Title.
func (info *Element) SetTitle(schema *Schema, title string) error {
	return info.SetChildValue(schema, IDTitle, "Title", Value{Kind: KindUnicode, Str: title})
}

// TimestampScale returns the segment Info's TimestampScale, defaulting to
// the schema's declared default (1000000, i.e. milliseconds) when unset.
func (info *Element) TimestampScale() uint64 {
	v, _ := info.ChildValue("TimestampScale", Value{Kind: KindUnsigned, Uint: 1000000})
	return v.Uint
}

// Duration returns the segment Info's Duration in TimestampScale units,
// 0 if unset.
func (info *Element) Duration() float64 {
	v, _ := info.ChildValue("Duration", Value{Kind: KindFloat})
	return v.Float
}

// SetDuration sets the segment Info's Duration.
func (info *Element) SetDuration(schema *Schema, d float64) error {
	return info.SetChildValue(schema, IDDuration, "Duration", Value{Kind: KindFloat, Float: d})
}
