package sse

import "strings"

// Assembler concatenates delta fragments in arrival order.
type Assembler struct {
	b strings.Builder
}

// Add appends fragment and returns the running content. Empty fragments are ignored so they
// never erase what was accumulated; changed is false for them.
func (a *Assembler) Add(fragment string) (content string, changed bool) {
	if fragment == "" {
		return a.b.String(), false
	}
	a.b.WriteString(fragment)
	return a.b.String(), true
}

func (a *Assembler) String() string {
	return a.b.String()
}

func (a *Assembler) Len() int {
	return a.b.Len()
}
