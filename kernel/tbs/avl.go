package tbs

// height returns the stored subtree height of idx, or 0 for the null
// sentinel.
func (t *Tree) height(idx uint16) int {
	if idx == 0 {
		return 0
	}
	return int(t.node(idx).height)
}

// balance returns height(left) - height(right); AVL requires this stay
// in {-1, 0, 1} for every node after insert or delete.
func (t *Tree) balance(idx uint16) int {
	if idx == 0 {
		return 0
	}
	n := t.node(idx)
	return t.height(n.left) - t.height(n.right)
}

func (t *Tree) updateHeight(idx uint16) {
	n := t.node(idx)
	h := t.height(n.left)
	if r := t.height(n.right); r > h {
		h = r
	}
	n.height = uint8(h + 1)
}

// rotateLeft promotes idx's right child to subtree root.
func (t *Tree) rotateLeft(idx uint16) uint16 {
	n := t.node(idx)
	r := n.right
	rn := t.node(r)
	beta := rn.left

	n.right = beta
	if beta != 0 {
		t.node(beta).parent = idx
	}
	rn.left = idx
	rn.parent = n.parent
	n.parent = r

	t.updateHeight(idx)
	t.updateHeight(r)
	return r
}

// rotateRight promotes idx's left child to subtree root.
func (t *Tree) rotateRight(idx uint16) uint16 {
	n := t.node(idx)
	l := n.left
	ln := t.node(l)
	beta := ln.right

	n.left = beta
	if beta != 0 {
		t.node(beta).parent = idx
	}
	ln.right = idx
	ln.parent = n.parent
	n.parent = l

	t.updateHeight(idx)
	t.updateHeight(l)
	return l
}

// rebalance recomputes idx's height and applies the standard LL/LR/RR/RL
// rotation when its balance factor leaves {-1,0,1}, returning the (possibly
// new) subtree root.
func (t *Tree) rebalance(idx uint16) uint16 {
	t.updateHeight(idx)
	bal := t.balance(idx)
	n := t.node(idx)

	if bal > 1 {
		if t.balance(n.left) < 0 {
			n.left = t.rotateLeft(n.left)
			t.node(n.left).parent = idx
		}
		return t.rotateRight(idx)
	}
	if bal < -1 {
		if t.balance(n.right) > 0 {
			n.right = t.rotateRight(n.right)
			t.node(n.right).parent = idx
		}
		return t.rotateLeft(idx)
	}
	return idx
}

// insert links the already-allocated node idx into the subtree rooted at
// root, keyed on base, and returns the (possibly new) subtree root.
func (t *Tree) insert(root, idx uint16) uint16 {
	if root == 0 {
		return idx
	}
	rn := t.node(root)
	in := t.node(idx)

	if in.base < rn.base {
		newLeft := t.insert(rn.left, idx)
		rn.left = newLeft
		t.node(newLeft).parent = root
	} else {
		newRight := t.insert(rn.right, idx)
		rn.right = newRight
		t.node(newRight).parent = root
	}
	return t.rebalance(root)
}

// deleteNode removes the node identified by idx from the subtree rooted
// at root and returns the (possibly new) subtree root. idx must name a
// node actually present in that subtree.
func (t *Tree) deleteNode(root, idx uint16) uint16 {
	if root == 0 {
		return 0
	}
	n := t.node(root)
	target := t.node(idx)

	switch {
	case target.base < n.base:
		n.left = t.deleteNode(n.left, idx)
		if n.left != 0 {
			t.node(n.left).parent = root
		}
	case target.base > n.base:
		n.right = t.deleteNode(n.right, idx)
		if n.right != 0 {
			t.node(n.right).parent = root
		}
	default:
		if n.left == 0 || n.right == 0 {
			child := n.left
			if child == 0 {
				child = n.right
			}
			if child != 0 {
				t.node(child).parent = n.parent
			}
			return child
		}

		succ := n.right
		for t.node(succ).left != 0 {
			succ = t.node(succ).left
		}
		succCopy := *t.node(succ)
		n.base, n.length, n.isFree = succCopy.base, succCopy.length, succCopy.isFree

		n.right = t.deleteNode(n.right, succ)
		if n.right != 0 {
			t.node(n.right).parent = root
		}
	}
	return t.rebalance(root)
}

// predecessor returns the in-order predecessor of idx: the node
// immediately below it in address order, found via a tree walk rather
// than a stored sibling pointer.
func (t *Tree) predecessor(idx uint16) uint16 {
	n := t.node(idx)
	if n.left != 0 {
		cur := n.left
		for t.node(cur).right != 0 {
			cur = t.node(cur).right
		}
		return cur
	}
	cur, p := idx, n.parent
	for p != 0 && t.node(p).left == cur {
		cur, p = p, t.node(p).parent
	}
	return p
}

// successor returns the in-order successor of idx: the node immediately
// above it in address order.
func (t *Tree) successor(idx uint16) uint16 {
	n := t.node(idx)
	if n.right != 0 {
		cur := n.right
		for t.node(cur).left != 0 {
			cur = t.node(cur).left
		}
		return cur
	}
	cur, p := idx, n.parent
	for p != 0 && t.node(p).right == cur {
		cur, p = p, t.node(p).parent
	}
	return p
}
