package state

// change is a single undoable overlay mutation.
type change interface {
	revert(*Overlay)
}

type writeChange struct {
	key     string
	prev    write
	existed bool
}

func (c writeChange) revert(o *Overlay) {
	if c.existed {
		o.writes[c.key] = c.prev
		return
	}
	delete(o.writes, c.key)
}

type seqChange struct {
	name    string
	prev    uint64
	existed bool
}

func (c seqChange) revert(o *Overlay) {
	if c.existed {
		o.seqs[c.name] = c.prev
		return
	}
	delete(o.seqs, c.name)
}
