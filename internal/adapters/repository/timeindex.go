package repository

import (
	"math/rand/v2"

	"github.com/okian/ecovision/internal/domain/model"
)

// Treap keyed by (timestamp, fingerprint). In-order traversal yields entries
// oldest first, which is the eviction order.

type timeKey struct {
	at int64 // unix nanoseconds
	fp model.Fingerprint
}

// less orders by timestamp, then fingerprint (deterministic for equal times).
func (a timeKey) less(b timeKey) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.fp < b.fp
}

type node struct {
	key   timeKey
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, key timeKey) *node {
	if n == nil {
		return &node{key: key, prio: rand.Uint64(), size: 1}
	}
	if key.less(n.key) {
		n.left = insert(n.left, key)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, key)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, key timeKey) *node {
	if n == nil {
		return nil
	}
	if key == n.key {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, key)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, key)
		}
	} else if key.less(n.key) {
		n.left = deleteNode(n.left, key)
	} else {
		n.right = deleteNode(n.right, key)
	}
	fix(n)
	return n
}

// collectBefore appends keys with timestamp < cutoff, oldest first.
func collectBefore(n *node, cutoff int64, out *[]timeKey) {
	if n == nil {
		return
	}
	collectBefore(n.left, cutoff, out)
	if n.key.at >= cutoff {
		return
	}
	*out = append(*out, n.key)
	collectBefore(n.right, cutoff, out)
}

// collectAll appends every key, oldest first.
func collectAll(n *node, out *[]timeKey) {
	if n == nil {
		return
	}
	collectAll(n.left, out)
	*out = append(*out, n.key)
	collectAll(n.right, out)
}
