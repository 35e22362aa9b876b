package schemarev

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrUnknownRevision   = errors.New("unknown revision")
	ErrAmbiguousRevision = errors.New("ambiguous revision")
	ErrMultipleHeads     = errors.New("multiple heads")
)

// Targets with a fixed meaning. They cannot be used as revision ids.
const (
	TargetBase  = "base"
	TargetHead  = "head"
	TargetHeads = "heads"
)

// History is a validated set of revisions linked through their parents.
// The empty string stands for the base, below every root.
type History struct {
	revs     map[string]*Revision
	children map[string][]string
	labels   map[string]string
	order    []*Revision
}

func NewHistory(revs ...*Revision) (*History, error) {
	h := &History{
		revs:     make(map[string]*Revision, len(revs)),
		children: make(map[string][]string),
		labels:   make(map[string]string),
	}

	for _, r := range revs {
		if r == nil {
			return nil, errors.New("nil revision")
		}
		if err := checkID(r.ID); err != nil {
			return nil, err
		}
		if _, ok := h.revs[r.ID]; ok {
			return nil, fmt.Errorf("duplicate revision id: %s", r.ID)
		}
		h.revs[r.ID] = r
	}

	for _, r := range revs {
		if r.Down != "" {
			if _, ok := h.revs[r.Down]; !ok {
				return nil, fmt.Errorf("revision %s: parent %s: %w", r.ID, r.Down, ErrUnknownRevision)
			}
		}
		h.children[r.Down] = append(h.children[r.Down], r.ID)

		for _, label := range r.BranchLabels {
			if other, ok := h.labels[label]; ok {
				return nil, fmt.Errorf("branch label %q used by both %s and %s", label, other, r.ID)
			}
			if _, ok := h.revs[label]; ok {
				return nil, fmt.Errorf("branch label %q collides with a revision id", label)
			}
			h.labels[label] = r.ID
		}
	}
	for _, c := range h.children {
		slices.Sort(c)
	}

	for _, r := range revs {
		if err := h.checkChain(r.ID); err != nil {
			return nil, err
		}
	}

	for _, r := range revs {
		for _, dep := range r.DependsOn {
			if _, ok := h.revs[dep]; !ok {
				return nil, fmt.Errorf("revision %s: dependency %s: %w", r.ID, dep, ErrUnknownRevision)
			}
			if dep == r.ID || !h.IsAncestor(dep, r.ID) {
				return nil, fmt.Errorf("revision %s: dependency %s is not an ancestor", r.ID, dep)
			}
		}
	}

	h.order = h.topological()
	return h, nil
}

func checkID(id string) error {
	switch {
	case id == "":
		return errors.New("empty revision id")
	case id == TargetBase || id == TargetHead || id == TargetHeads:
		return fmt.Errorf("reserved revision id: %s", id)
	case strings.HasPrefix(id, "+") || strings.HasPrefix(id, "-"):
		return fmt.Errorf("revision id may not start with a sign: %s", id)
	case strings.ContainsAny(id, " \t\n"):
		return fmt.Errorf("revision id contains whitespace: %q", id)
	}
	return nil
}

func (h *History) checkChain(id string) error {
	seen := map[string]bool{}
	for cur := id; cur != ""; cur = h.revs[cur].Down {
		if seen[cur] {
			return fmt.Errorf("revision %s: cycle through %s", id, cur)
		}
		seen[cur] = true
	}
	return nil
}

func (h *History) topological() []*Revision {
	order := make([]*Revision, 0, len(h.revs))
	queue := slices.Clone(h.children[""])
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, h.revs[id])
		queue = append(queue, h.children[id]...)
		slices.Sort(queue)
	}
	return order
}

func (h *History) Len() int { return len(h.revs) }

func (h *History) Get(id string) (*Revision, bool) {
	r, ok := h.revs[id]
	return r, ok
}

// Revisions returns every revision with parents before children.
func (h *History) Revisions() []*Revision {
	return slices.Clone(h.order)
}

// Heads returns the revisions without children, sorted by id.
func (h *History) Heads() []*Revision {
	var heads []*Revision
	for _, r := range h.order {
		if len(h.children[r.ID]) == 0 {
			heads = append(heads, r)
		}
	}
	slices.SortFunc(heads, func(a, b *Revision) int { return strings.Compare(a.ID, b.ID) })
	return heads
}

// Bases returns the root revisions, sorted by id.
func (h *History) Bases() []*Revision {
	var bases []*Revision
	for _, id := range h.children[""] {
		bases = append(bases, h.revs[id])
	}
	return bases
}

// Lineage returns the chain from the root down to id.
func (h *History) Lineage(id string) ([]*Revision, error) {
	if id == "" {
		return nil, nil
	}
	if _, ok := h.revs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, id)
	}
	var chain []*Revision
	for cur := id; cur != ""; cur = h.revs[cur].Down {
		chain = append(chain, h.revs[cur])
	}
	slices.Reverse(chain)
	return chain, nil
}

// IsAncestor reports whether a lies on the parent chain of b. The base is an
// ancestor of everything and every revision is an ancestor of itself.
func (h *History) IsAncestor(a, b string) bool {
	if a == "" {
		return true
	}
	for cur := b; cur != ""; {
		if cur == a {
			return true
		}
		r, ok := h.revs[cur]
		if !ok {
			return false
		}
		cur = r.Down
	}
	return false
}

// Resolve turns a target into a revision id, "" meaning base. current is
// used by relative targets such as "+1" and "-2".
func (h *History) Resolve(target, current string) (string, error) {
	switch {
	case target == "" || target == TargetBase:
		return "", nil
	case target == TargetHead || target == TargetHeads:
		heads := h.Heads()
		switch len(heads) {
		case 0:
			return "", nil
		case 1:
			return heads[0].ID, nil
		default:
			ids := make([]string, len(heads))
			for i, r := range heads {
				ids[i] = r.ID
			}
			return "", fmt.Errorf("%w: %s", ErrMultipleHeads, strings.Join(ids, ", "))
		}
	case target[0] == '+' || target[0] == '-':
		n, err := strconv.Atoi(target[1:])
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid relative target: %s", target)
		}
		if target[0] == '+' {
			return h.forward(current, n)
		}
		return h.backward(current, n)
	}

	if _, ok := h.revs[target]; ok {
		return target, nil
	}
	if id, ok := h.labels[target]; ok {
		return id, nil
	}

	var matches []string
	for id := range h.revs {
		if strings.HasPrefix(id, target) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownRevision, target)
	case 1:
		return matches[0], nil
	default:
		slices.Sort(matches)
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguousRevision, target, strings.Join(matches, ", "))
	}
}

func (h *History) forward(current string, n int) (string, error) {
	if current != "" {
		if _, ok := h.revs[current]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownRevision, current)
		}
	}
	cur := current
	for i := 0; i < n; i++ {
		next := h.children[cur]
		switch len(next) {
		case 0:
			return "", fmt.Errorf("+%d from %s: only %d revisions ahead", n, displayID(current), i)
		case 1:
			cur = next[0]
		default:
			return "", fmt.Errorf("%w: %s branches into %s", ErrAmbiguousRevision, displayID(cur), strings.Join(next, ", "))
		}
	}
	return cur, nil
}

func (h *History) backward(current string, n int) (string, error) {
	cur := current
	for i := 0; i < n; i++ {
		if cur == "" {
			return "", fmt.Errorf("-%d from %s: only %d revisions behind", n, displayID(current), i)
		}
		r, ok := h.revs[cur]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownRevision, cur)
		}
		cur = r.Down
	}
	return cur, nil
}

// UpgradePath returns the revisions to apply, in order, to move from from to
// to. from must be an ancestor of to.
func (h *History) UpgradePath(from, to string) ([]*Revision, error) {
	if err := h.known(from, to); err != nil {
		return nil, err
	}
	if !h.IsAncestor(from, to) {
		return nil, fmt.Errorf("cannot upgrade from %s to %s: target is not ahead of current", displayID(from), displayID(to))
	}
	var path []*Revision
	for cur := to; cur != from; cur = h.revs[cur].Down {
		path = append(path, h.revs[cur])
	}
	slices.Reverse(path)
	return path, nil
}

// DowngradePath returns the revisions to revert, in order, to move from from
// back to to. to must be an ancestor of from.
func (h *History) DowngradePath(from, to string) ([]*Revision, error) {
	if err := h.known(from, to); err != nil {
		return nil, err
	}
	if !h.IsAncestor(to, from) {
		return nil, fmt.Errorf("cannot downgrade from %s to %s: target is not behind current", displayID(from), displayID(to))
	}
	var path []*Revision
	for cur := from; cur != to; cur = h.revs[cur].Down {
		path = append(path, h.revs[cur])
	}
	return path, nil
}

func (h *History) known(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := h.revs[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownRevision, id)
		}
	}
	return nil
}

func displayID(id string) string {
	if id == "" {
		return "<base>"
	}
	return id
}
