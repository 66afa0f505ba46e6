package sqlruntime

// Ticket identifies one issued query for a layer.
type Ticket struct {
	LayerID string
	Seq     uint64
	SQL     string
}

// Issue records text as the latest query for layerID.
func (r *Runtime) Issue(layerID, text string) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	t := Ticket{LayerID: layerID, Seq: r.seq, SQL: CompileSQL(text)}
	r.tickets[layerID] = t
	return t
}

// IsLatest reports whether t is still the newest query for its layer.
func (r *Runtime) IsLatest(t Ticket) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, ok := r.tickets[t.LayerID]
	return ok && latest.Seq == t.Seq && latest.SQL == t.SQL
}

// Accepts reports whether res echoes the latest query issued for its layer.
func (r *Runtime) Accepts(res *Result) bool {
	if res == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	latest, ok := r.tickets[res.LayerID]
	return ok && latest.SQL == res.SQL
}
