package planner

import "strings"

// quoteStyle controls how a parameter value is wrapped when serialized.
type quoteStyle int

const (
	quoteNone quoteStyle = iota
	quoteDouble
	quoteSingle
)

type param struct {
	flag  string
	value string
	style quoteStyle
	bare  bool
}

// ParamList is an ordered installer parameter list. Parameters stay
// structured until the final serialization so tests can assert on flags and
// values instead of substrings.
type ParamList struct {
	params []param
}

// Add appends an unquoted flag/value pair.
func (l *ParamList) Add(flag, value string) {
	l.params = append(l.params, param{flag: flag, value: value})
}

// AddQuoted appends a double-quoted flag/value pair. Used for values that
// may contain comma-separated lists.
func (l *ParamList) AddQuoted(flag, value string) {
	l.params = append(l.params, param{flag: flag, value: value, style: quoteDouble})
}

// AddSingleQuoted appends a single-quoted flag/value pair. Used for secrets
// and paths handed through to a second shell.
func (l *ParamList) AddSingleQuoted(flag, value string) {
	l.params = append(l.params, param{flag: flag, value: value, style: quoteSingle})
}

// AddBare appends a standalone token with no value, e.g. an -R switch.
func (l *ParamList) AddBare(token string) {
	l.params = append(l.params, param{flag: token, bare: true})
}

// PrependBare inserts a standalone token at the front of the list.
func (l *ParamList) PrependBare(token string) {
	l.params = append([]param{{flag: token, bare: true}}, l.params...)
}

// Get returns the raw value of the first parameter with the given flag.
func (l *ParamList) Get(flag string) (string, bool) {
	for _, p := range l.params {
		if p.flag == flag {
			return p.value, true
		}
	}
	return "", false
}

// String serializes the list, joining entries with single spaces. Quoted
// entries keep their quotes even when the value is empty, so a later flag
// can never be consumed as the value of an earlier one.
func (l *ParamList) String() string {
	parts := make([]string, 0, len(l.params))
	for _, p := range l.params {
		switch {
		case p.bare:
			parts = append(parts, p.flag)
		case p.style == quoteDouble:
			parts = append(parts, p.flag+" \""+p.value+"\"")
		case p.style == quoteSingle:
			parts = append(parts, p.flag+" '"+p.value+"'")
		case p.value == "":
			parts = append(parts, p.flag)
		default:
			parts = append(parts, p.flag+" "+p.value)
		}
	}
	return strings.Join(parts, " ")
}
