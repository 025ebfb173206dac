package geo

import "sort"

const (
	defaultNodeCapacity = 16
	maxDepth            = 24
)

// Match is a point returned by a radius query.
type Match struct {
	ID       string
	Point    Point
	Distance float64
}

// Index is a point quad-tree over the whole globe keyed by string id.
// It is not safe for concurrent use; callers serialise access.
type Index struct {
	root     *node
	points   map[string]Point
	capacity int
}

type entry struct {
	id    string
	point Point
}

type node struct {
	bounds   rect
	depth    int
	entries  []entry
	children []*node
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		root:     &node{bounds: world},
		points:   make(map[string]Point),
		capacity: defaultNodeCapacity,
	}
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// Has reports whether id is indexed.
func (ix *Index) Has(id string) bool {
	_, ok := ix.points[id]
	return ok
}

// Insert adds or moves id to p.
func (ix *Index) Insert(id string, p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := ix.points[id]; ok {
		ix.Remove(id)
	}
	ix.root.insert(entry{id: id, point: p}, ix.capacity)
	ix.points[id] = p
	return nil
}

// Remove deletes id; it is a no-op when id is absent.
func (ix *Index) Remove(id string) {
	p, ok := ix.points[id]
	if !ok {
		return
	}
	ix.root.remove(id, p)
	delete(ix.points, id)
}

// Within returns every point no farther than radius metres from center,
// nearest first. Equal distances are ordered by id.
func (ix *Index) Within(center Point, radius float64) []Match {
	var out []Match
	for _, box := range boundingBoxes(center, radius) {
		ix.root.collect(box, func(e entry) {
			d := Distance(center, e.point)
			if d <= radius {
				out = append(out, Match{ID: e.id, Point: e.point, Distance: d})
			}
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (n *node) insert(e entry, capacity int) {
	if n.children == nil {
		if len(n.entries) < capacity || n.depth >= maxDepth {
			n.entries = append(n.entries, e)
			return
		}
		n.split(capacity)
	}
	n.child(e.point).insert(e, capacity)
}

func (n *node) split(capacity int) {
	midLon := (n.bounds.minLon + n.bounds.maxLon) / 2
	midLat := (n.bounds.minLat + n.bounds.maxLat) / 2
	b := n.bounds
	n.children = []*node{
		{bounds: rect{minLon: b.minLon, minLat: midLat, maxLon: midLon, maxLat: b.maxLat}, depth: n.depth + 1},
		{bounds: rect{minLon: midLon, minLat: midLat, maxLon: b.maxLon, maxLat: b.maxLat}, depth: n.depth + 1},
		{bounds: rect{minLon: b.minLon, minLat: b.minLat, maxLon: midLon, maxLat: midLat}, depth: n.depth + 1},
		{bounds: rect{minLon: midLon, minLat: b.minLat, maxLon: b.maxLon, maxLat: midLat}, depth: n.depth + 1},
	}
	entries := n.entries
	n.entries = nil
	for _, e := range entries {
		n.child(e.point).insert(e, capacity)
	}
}

// child picks the first quadrant containing p. Insert and remove share this
// rule so points on a shared edge are always found in the same quadrant.
func (n *node) child(p Point) *node {
	for _, c := range n.children {
		if c.bounds.contains(p) {
			return c
		}
	}
	return n.children[len(n.children)-1]
}

func (n *node) remove(id string, p Point) bool {
	if n.children != nil {
		return n.child(p).remove(id, p)
	}
	for i, e := range n.entries {
		if e.id == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (n *node) collect(box rect, visit func(entry)) {
	if !n.bounds.intersects(box) {
		return
	}
	for _, e := range n.entries {
		if box.contains(e.point) {
			visit(e)
		}
	}
	for _, c := range n.children {
		c.collect(box, visit)
	}
}
