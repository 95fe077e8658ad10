// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

// scanLimit is the frame width up to which key lookup is a linear scan.
// Wider frames are looked up through the arena's index map.
const scanLimit = 16

// List is a stack of variable-length key → coefficient lists stored in one arena.
//
// Every frame occupies a contiguous run of the arena, the top frame being the last run.
// Within a frame each key appears at most once and entries keep the order in which
// their keys were first seen. Coefficients of colliding keys are summed.
//
// The zero value is an empty list ready to use.
type List[K comparable] struct {
	keys  []K
	vals  []float64
	heads []int // start offset of each frame

	// index maps key to arena offset for the frame starting at indexed-1.
	// indexed == 0 means no frame is indexed.
	index   map[K]int
	indexed int

	peakKeys, peakFrames int
}

// Len returns the number of active frames.
func (l *List[K]) Len() int {
	return len(l.heads)
}

// Size returns the total number of entries over all active frames.
func (l *List[K]) Size() int {
	return len(l.keys)
}

// Push opens a new empty frame on top of the stack.
func (l *List[K]) Push() {
	l.heads = append(l.heads, len(l.keys))
	l.indexed = 0
	l.peakFrames = max(l.peakFrames, len(l.heads))
}

// Pop discards the top frame.
func (l *List[K]) Pop() {
	base := l.top()
	l.keys, l.vals = l.keys[:base], l.vals[:base]
	l.heads = l.heads[:len(l.heads)-1]
	l.indexed = 0
}

// Reset discards all frames while keeping the allocated arena.
func (l *List[K]) Reset() {
	l.keys, l.vals, l.heads = l.keys[:0], l.vals[:0], l.heads[:0]
	l.indexed = 0
}

// Add accumulates v into the coefficient of k in the top frame,
// appending k at the end of the frame when it is not present yet.
func (l *List[K]) Add(k K, v float64) {
	base := l.top()
	if i, ok := l.find(base, k); ok {
		l.vals[i] += v
		return
	}
	l.keys = append(l.keys, k)
	l.vals = append(l.vals, v)
	if l.indexed == base+1 {
		l.index[k] = len(l.keys) - 1
	}
	l.peakKeys = max(l.peakKeys, len(l.keys))
}

// Scale multiplies every coefficient of the top frame by v.
func (l *List[K]) Scale(v float64) {
	l.ScaleFrame(0, v)
}

// ScaleFrame multiplies every coefficient of the frame at the given depth by v.
func (l *List[K]) ScaleFrame(depth int, v float64) {
	_, vals := l.Frame(depth)
	for i := range vals {
		vals[i] *= v
	}
}

// Merge folds the top n frames into a single frame.
//
// The merged frame lists the keys of the lowest frame first followed by
// the keys first seen in the frames above it. Coefficients of keys present
// in several frames are summed.
func (l *List[K]) Merge(n int) {
	if n < 1 || n > len(l.heads) {
		panic("sparse: merge of more frames than active")
	}
	if n == 1 {
		return
	}

	base := l.heads[len(l.heads)-n]
	l.heads = l.heads[:len(l.heads)-n+1]
	l.indexed = 0

	keys, vals := l.keys, l.vals
	end, w := len(keys), base
	if end-base <= scanLimit {
	next:
		for r := base; r < end; r++ {
			k := keys[r]
			for i := base; i < w; i++ {
				if keys[i] == k {
					vals[i] += vals[r]
					continue next
				}
			}
			keys[w], vals[w] = k, vals[r]
			w++
		}
	} else {
		idx := l.resetIndex()
		for r := base; r < end; r++ {
			k := keys[r]
			if i, ok := idx[k]; ok {
				vals[i] += vals[r]
				continue
			}
			idx[k] = w
			keys[w], vals[w] = k, vals[r]
			w++
		}
		l.indexed = base + 1
	}

	l.keys, l.vals = keys[:w], vals[:w]
}

// Frame returns the keys and coefficients of the frame at the given depth,
// depth 0 being the top frame. The slices alias the arena and are only valid
// until the next mutation.
func (l *List[K]) Frame(depth int) ([]K, []float64) {
	n := len(l.heads)
	if depth < 0 || depth >= n {
		panic("sparse: frame depth out of range")
	}
	lo, hi := l.heads[n-1-depth], len(l.keys)
	if depth > 0 {
		hi = l.heads[n-depth]
	}
	return l.keys[lo:hi:hi], l.vals[lo:hi:hi]
}

// Top is shorthand for Frame(0).
func (l *List[K]) Top() ([]K, []float64) {
	return l.Frame(0)
}

// Compact reallocates the arena to the peak size observed so far,
// so that later runs of the same shape never grow it.
func (l *List[K]) Compact() {
	if cap(l.keys) != l.peakKeys {
		keys := make([]K, len(l.keys), max(l.peakKeys, len(l.keys)))
		vals := make([]float64, len(l.vals), cap(keys))
		copy(keys, l.keys)
		copy(vals, l.vals)
		l.keys, l.vals = keys, vals
	}
	if cap(l.heads) != l.peakFrames {
		heads := make([]int, len(l.heads), max(l.peakFrames, len(l.heads)))
		copy(heads, l.heads)
		l.heads = heads
	}
	if l.peakKeys <= scanLimit {
		l.index, l.indexed = nil, 0
	}
}

func (l *List[K]) top() int {
	n := len(l.heads)
	if n == 0 {
		panic("sparse: no active frame")
	}
	return l.heads[n-1]
}

func (l *List[K]) find(base int, k K) (int, bool) {
	if len(l.keys)-base <= scanLimit {
		for i := base; i < len(l.keys); i++ {
			if l.keys[i] == k {
				return i, true
			}
		}
		return -1, false
	}
	if l.indexed != base+1 {
		idx := l.resetIndex()
		for i := base; i < len(l.keys); i++ {
			idx[l.keys[i]] = i
		}
		l.indexed = base + 1
	}
	i, ok := l.index[k]
	return i, ok
}

func (l *List[K]) resetIndex() map[K]int {
	if l.index == nil {
		l.index = make(map[K]int)
	} else {
		clear(l.index)
	}
	return l.index
}
