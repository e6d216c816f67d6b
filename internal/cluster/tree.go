package cluster

import "sort"

const maxLambda = 1e12

// linkage is a single linkage dendrogram. Leaves are 0..n-1 and merge i
// creates node n+i.
type linkage struct {
	n           int
	left, right []int
	dist        []float64
	size        []int
}

func (l *linkage) root() int { return 2*l.n - 2 }

func (l *linkage) sizeOf(node int) int {
	if node < l.n {
		return 1
	}
	return l.size[node-l.n]
}

func (l *linkage) leaves(node int, out []int) []int {
	stack := []int{node}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur < l.n {
			out = append(out, cur)
			continue
		}
		stack = append(stack, l.right[cur-l.n], l.left[cur-l.n])
	}
	return out
}

// disjointSet tracks the current dendrogram node of each merged component.
type disjointSet struct {
	parent []int
}

func (d *disjointSet) find(x int) int {
	root := x
	for d.parent[root] != root {
		root = d.parent[root]
	}
	for d.parent[x] != root {
		d.parent[x], x = root, d.parent[x]
	}
	return root
}

func singleLinkage(n int, mst []edge) *linkage {
	l := &linkage{
		n:     n,
		left:  make([]int, 0, n-1),
		right: make([]int, 0, n-1),
		dist:  make([]float64, 0, n-1),
		size:  make([]int, 0, n-1),
	}
	ds := &disjointSet{parent: make([]int, 2*n-1)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	for i, e := range mst {
		ra, rb := ds.find(e.a), ds.find(e.b)
		node := n + i
		l.left = append(l.left, ra)
		l.right = append(l.right, rb)
		l.dist = append(l.dist, e.w)
		l.size = append(l.size, l.sizeOf(ra)+l.sizeOf(rb))
		ds.parent[ra] = node
		ds.parent[rb] = node
	}
	return l
}

// condensedRow records a child (point or cluster) leaving a parent cluster.
type condensedRow struct {
	parent, child int
	lambda        float64
	size          int
}

// condensedTree is the cluster hierarchy after pruning splits smaller than
// the minimum cluster size. Cluster labels start at n, the root being n.
type condensedTree struct {
	n        int
	clusters int
	rows     []condensedRow
	parentOf []int
	birth    []float64
}

func lambdaOf(d float64) float64 {
	if d <= 1/maxLambda {
		return maxLambda
	}
	return 1 / d
}

func condense(l *linkage, minSize int) *condensedTree {
	ct := &condensedTree{n: l.n}
	next := l.n + 1
	var walk func(node, label int)
	walk = func(node, label int) {
		i := node - l.n
		left, right := l.left[i], l.right[i]
		lambda := lambdaOf(l.dist[i])
		ls, rs := l.sizeOf(left), l.sizeOf(right)
		fallOut := func(child int) {
			for _, leaf := range l.leaves(child, nil) {
				ct.rows = append(ct.rows, condensedRow{parent: label, child: leaf, lambda: lambda, size: 1})
			}
		}
		switch {
		case ls >= minSize && rs >= minSize:
			ll, rl := next, next+1
			next += 2
			ct.rows = append(ct.rows,
				condensedRow{parent: label, child: ll, lambda: lambda, size: ls},
				condensedRow{parent: label, child: rl, lambda: lambda, size: rs},
			)
			walk(left, ll)
			walk(right, rl)
		case ls < minSize && rs < minSize:
			fallOut(left)
			fallOut(right)
		case ls < minSize:
			fallOut(left)
			walk(right, label)
		default:
			fallOut(right)
			walk(left, label)
		}
	}
	walk(l.root(), l.n)

	ct.clusters = next - l.n
	ct.parentOf = make([]int, ct.clusters)
	ct.birth = make([]float64, ct.clusters)
	ct.parentOf[0] = -1
	for _, r := range ct.rows {
		if r.child >= l.n {
			ct.parentOf[r.child-l.n] = r.parent
			ct.birth[r.child-l.n] = r.lambda
		}
	}
	return ct
}

func (ct *condensedTree) stability() []float64 {
	s := make([]float64, ct.clusters)
	for _, r := range ct.rows {
		p := r.parent - ct.n
		s[p] += (r.lambda - ct.birth[p]) * float64(r.size)
	}
	return s
}

func (ct *condensedTree) children() [][]int {
	out := make([][]int, ct.clusters)
	for _, r := range ct.rows {
		if r.child >= ct.n {
			out[r.parent-ct.n] = append(out[r.parent-ct.n], r.child)
		}
	}
	return out
}

// selectEOM picks the clusters maximising total stability, never the root.
func (ct *condensedTree) selectEOM() []int {
	stability := ct.stability()
	children := ct.children()
	selected := make([]bool, ct.clusters)
	for c := ct.clusters - 1; c > 0; c-- {
		sub := 0.0
		for _, child := range children[c] {
			sub += stability[child-ct.n]
		}
		if len(children[c]) > 0 && sub > stability[c] {
			stability[c] = sub
			continue
		}
		selected[c] = true
		ct.eachDescendant(children, c, func(d int) { selected[d-ct.n] = false })
	}

	var out []int
	for c, ok := range selected {
		if ok {
			out = append(out, c+ct.n)
		}
	}
	return out
}

func (ct *condensedTree) eachDescendant(children [][]int, label int, fn func(int)) {
	stack := append([]int(nil), children[label-ct.n]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(cur)
		stack = append(stack, children[cur-ct.n]...)
	}
}

// epsilonSearch replaces selected clusters born below distance eps by their
// closest ancestor born above it, keeping the root out of the selection.
func (ct *condensedTree) epsilonSearch(selected []int, eps float64) []int {
	children := ct.children()
	processed := make(map[int]bool)
	chosen := make(map[int]bool)
	for _, c := range selected {
		if 1/ct.birth[c-ct.n] >= eps {
			chosen[c] = true
			continue
		}
		if processed[c] {
			continue
		}
		up := ct.traverseUp(c, eps)
		chosen[up] = true
		processed[up] = true
		ct.eachDescendant(children, up, func(d int) { processed[d] = true })
	}

	var out []int
	for c := range chosen {
		if !ct.hasChosenAncestor(c, chosen) {
			out = append(out, c)
		}
	}
	sort.Ints(out)
	return out
}

func (ct *condensedTree) traverseUp(c int, eps float64) int {
	for {
		parent := ct.parentOf[c-ct.n]
		if parent == ct.n {
			return c
		}
		if 1/ct.birth[parent-ct.n] > eps {
			return parent
		}
		c = parent
	}
}

func (ct *condensedTree) hasChosenAncestor(c int, chosen map[int]bool) bool {
	for p := ct.parentOf[c-ct.n]; p > ct.n; p = ct.parentOf[p-ct.n] {
		if chosen[p] {
			return true
		}
	}
	return false
}

// label writes compact cluster labels into labels and returns the count.
func (ct *condensedTree) label(selected []int, labels []int) int {
	index := make(map[int]int, len(selected))
	for i, c := range selected {
		index[c] = i
	}
	owner := make([]int, ct.clusters)
	for c := 0; c < ct.clusters; c++ {
		owner[c] = Noise
		for p := c + ct.n; p >= ct.n; p = ct.parentOf[p-ct.n] {
			if idx, ok := index[p]; ok {
				owner[c] = idx
				break
			}
			if p == ct.n {
				break
			}
		}
	}
	for _, r := range ct.rows {
		if r.child < ct.n {
			labels[r.child] = owner[r.parent-ct.n]
		}
	}
	return len(selected)
}
