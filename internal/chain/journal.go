package chain

// Put writes m[k] = v and journals the previous state of the key.
func Put[K comparable, V any](e *Env, m map[K]V, k K, v V) {
	prev, had := m[k]
	e.Record(func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Delete removes m[k] and journals the previous state of the key.
func Delete[K comparable, V any](e *Env, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	e.Record(func() { m[k] = prev })
	delete(m, k)
}
