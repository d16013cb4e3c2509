package collab

import "sync"

// echoMarker holds the last remotely applied value of one field until the
// surface reports that same value back. Only a matching report is treated
// as the echo; any other text is a genuine edit and leaves the marker armed
// for the echo that may still be on its way.
type echoMarker struct {
	mu    sync.Mutex
	value string
	armed bool
}

func (m *echoMarker) arm(value string) {
	m.mu.Lock()
	m.value = value
	m.armed = true
	m.mu.Unlock()
}

// consume reports whether text is the echo of the armed value, disarming
// the marker if so.
func (m *echoMarker) consume(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed || m.value != text {
		return false
	}
	m.armed = false
	m.value = ""
	return true
}

func (m *echoMarker) reset() {
	m.mu.Lock()
	m.value = ""
	m.armed = false
	m.mu.Unlock()
}
