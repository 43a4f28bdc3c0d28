package models

// Metadata is a string keyed map that remembers insertion order.
// Consumers treat the order as meaningful, so it is never sorted.
// The zero value is an empty map ready to use.
type Metadata struct {
	keys   []string
	values map[string]Value
}

// Set adds key or replaces its value in place.
func (m *Metadata) Set(key string, v Value) {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Metadata) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Metadata) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for every pair in insertion order until fn returns false.
func (m *Metadata) Range(fn func(key string, v Value) bool) {
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}
