package doubleratchet

import "sort"

const (
	// Window is how many chain positions past the receiving index a message
	// may arrive from, and how long a skipped key is held back for it.
	Window = 50
	// MaxHeldBack caps held-back keys across epochs; oldest go first.
	MaxHeldBack = 200
)

type (
	Position struct {
		Epoch uint32 `json:"epoch"`
		Index uint64 `json:"index"`
	}

	HeldKey struct {
		Position
		Key [32]byte `json:"key"`
	}

	// heldBack keeps message keys of positions that were skipped over,
	// ordered by position.
	heldBack struct {
		keys []HeldKey
	}
)

func (p Position) less(o Position) bool {
	if p.Epoch != o.Epoch {
		return p.Epoch < o.Epoch
	}
	return p.Index < o.Index
}

func (h *heldBack) clone() heldBack {
	return heldBack{keys: append([]HeldKey(nil), h.keys...)}
}

func (h *heldBack) add(keys ...HeldKey) {
	h.keys = append(h.keys, keys...)
	sort.Slice(h.keys, func(i, j int) bool { return h.keys[i].less(h.keys[j].Position) })
	if over := len(h.keys) - MaxHeldBack; over > 0 {
		n := copy(h.keys, h.keys[over:])
		wipeHeld(h.keys[n:])
		h.keys = h.keys[:n]
	}
}

func (h *heldBack) remove(i int) {
	n := copy(h.keys[i:], h.keys[i+1:]) + i
	wipeHeld(h.keys[n:])
	h.keys = h.keys[:n]
}

// prune drops keys of the current epoch that fell out of the window behind
// recvIndex. Older epochs only leave through the MaxHeldBack cap.
func (h *heldBack) prune(epoch uint32, recvIndex uint64) {
	n := 0
	for i := range h.keys {
		k := h.keys[i]
		if k.Epoch == epoch && k.Index+Window < recvIndex {
			continue
		}
		h.keys[n] = k
		n++
	}
	wipeHeld(h.keys[n:])
	h.keys = h.keys[:n]
}

func wipeHeld(keys []HeldKey) {
	for i := range keys {
		keys[i].Key = [32]byte{}
	}
}
