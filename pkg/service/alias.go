package service

import (
	"strings"
)

// AliasTable maps an alias kind ("tag", "target") to a table of alias
// name -> template string.  Templates may contain {placeholder}
// substitutions filled in at resolution time.
type AliasTable map[string]map[string]string

// Unalias expands a logical group name into a concrete one.
//
// An alias name absent from a known kind is not an error: the name
// itself is used as the template.  An unknown kind is an error, since
// it means the lookup itself is wrong.
func (t AliasTable) Unalias(kind, alias string, params map[string]string) (string, error) {
	table, ok := t[kind]
	if !ok {
		return "", ErrUnknownAliasKind{Kind: kind}
	}

	template, ok := table[alias]
	if !ok {
		template = alias
	}
	return expand(template, params)
}

// expand substitutes {name} placeholders in template from params.
// Doubled braces escape literal braces.
func expand(template string, params map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i:], '}')
			if end < 0 {
				return "", ErrMissingFormatKey{Template: template, Key: template[i+1:]}
			}
			key := template[i+1 : i+end]
			value, ok := params[key]
			if !ok {
				return "", ErrMissingFormatKey{Template: template, Key: key}
			}
			b.WriteString(value)
			i += end
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				i++
			}
			b.WriteByte('}')
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
