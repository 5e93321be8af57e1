package room

// requestLog remembers the last N accepted request ids, oldest evicted first.
type requestLog struct {
	ids  []string
	set  map[string]struct{}
	next int
}

func newRequestLog(size int) *requestLog {
	if size <= 0 {
		return &requestLog{}
	}
	return &requestLog{
		ids: make([]string, size),
		set: make(map[string]struct{}, size),
	}
}

func (l *requestLog) contains(id string) bool {
	_, ok := l.set[id]
	return ok
}

func (l *requestLog) add(id string) {
	if id == "" || len(l.ids) == 0 || l.contains(id) {
		return
	}
	if old := l.ids[l.next]; old != "" {
		delete(l.set, old)
	}
	l.ids[l.next] = id
	l.set[id] = struct{}{}
	l.next = (l.next + 1) % len(l.ids)
}
