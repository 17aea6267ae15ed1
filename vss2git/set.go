/*
 * Small set types used by the path mapper and its callers.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"strings"

	orderedset "github.com/emirpasic/gods/sets/linkedhashset"
)

// This representation optimizes for small memory footprint at the expense
// of speed.  Path sets are tiny - one entry per share of a file.
type orderedStringSet []string

func newOrderedStringSet(elements ...string) orderedStringSet {
	set := make(orderedStringSet, 0, len(elements))
	for _, el := range elements {
		set.Add(el)
	}
	return set
}

func (s orderedStringSet) Contains(item string) bool {
	for _, el := range s {
		if item == el {
			return true
		}
	}
	return false
}

func (s *orderedStringSet) Add(item string) {
	for _, el := range *s {
		if el == item {
			return
		}
	}
	*s = append(*s, item)
}

func (s orderedStringSet) Equal(other orderedStringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, item := range s {
		if !other.Contains(item) {
			return false
		}
	}
	return true
}

func (s orderedStringSet) Empty() bool {
	return len(s) == 0
}

func (s orderedStringSet) String() string {
	if len(s) == 0 {
		return "[]"
	}
	var rep strings.Builder
	rep.WriteByte('[')
	lastIdx := len(s) - 1
	for idx, el := range s {
		fmt.Fprintf(&rep, "\"%s\"", el)
		if idx != lastIdx {
			rep.WriteString(", ")
		}
	}
	rep.WriteByte(']')
	return rep.String()
}

// itemSet is an insertion-ordered set of identities, so walks over a
// project's children come out in the order the children arrived.
type itemSet struct{ set *orderedset.Set }

func newItemSet(ids ...itemID) *itemSet {
	s := &itemSet{orderedset.New()}
	for _, id := range ids {
		s.set.Add(id)
	}
	return s
}

func (s *itemSet) Add(id itemID) {
	s.set.Add(id)
}

func (s *itemSet) Remove(id itemID) bool {
	if s.set.Contains(id) {
		s.set.Remove(id)
		return true
	}
	return false
}

func (s *itemSet) Contains(id itemID) bool {
	return s.set.Contains(id)
}

func (s *itemSet) Size() int {
	return s.set.Size()
}

func (s *itemSet) Values() []itemID {
	v := make([]itemID, 0, s.set.Size())
	it := s.set.Iterator()
	for it.Next() {
		v = append(v, it.Value().(itemID))
	}
	return v
}
