package config

import "strings"

type EnvVar struct {
	Key   string
	Value string
}

// Environment is an ordered KEY=VALUE list. Order is insertion order so the
// rendered file is stable between runs.
type Environment []EnvVar

// With returns a copy of e where key is set to value, replacing an existing
// entry in place or appending a new one.
func (e Environment) With(key, value string) Environment {
	out := e.Clone()
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, EnvVar{Key: key, Value: value})
}

func (e Environment) Get(key string) (string, bool) {
	for _, v := range e {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

func (e Environment) Clone() Environment {
	if e == nil {
		return nil
	}
	return append(Environment(nil), e...)
}

// NonEmpty drops entries whose value is empty.
func (e Environment) NonEmpty() Environment {
	out := make(Environment, 0, len(e))
	for _, v := range e {
		if v.Value != "" {
			out = append(out, v)
		}
	}
	return out
}

// Render serializes the non-empty entries, one KEY=VALUE per line, each
// line newline terminated.
func (e Environment) Render() string {
	var b strings.Builder
	for _, v := range e.NonEmpty() {
		b.WriteString(v.Key)
		b.WriteByte('=')
		b.WriteString(v.Value)
		b.WriteByte('\n')
	}
	return b.String()
}
