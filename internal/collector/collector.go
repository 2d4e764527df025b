// Package collector gathers the ways that make up area relations in two
// passes over the input and hands complete candidates to the assembler.
//
// Pass 1 reads relations and records the ids of member ways. Pass 2 reads
// nodes and ways, keeps the needed ways as segments and releases each
// relation as soon as all its member ways were seen. Closed ways tagged as
// areas become single-way candidates in pass 2.
package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2area-go/internal/area"
	"github.com/wegman-software/osm2area-go/internal/arena"
	"github.com/wegman-software/osm2area-go/internal/entity"
	"github.com/wegman-software/osm2area-go/internal/filter"
	"github.com/wegman-software/osm2area-go/internal/geom"
	"github.com/wegman-software/osm2area-go/internal/index"
	"github.com/wegman-software/osm2area-go/internal/logger"
	"github.com/wegman-software/osm2area-go/internal/nodeindex"
)

// ErrInvalidState is returned when an operation is called out of order.
var ErrInvalidState = errors.New("collector: invalid state")

// State is the position of the collector in its two-pass protocol.
type State int

const (
	AwaitingPass1 State = iota
	Pass1Active
	Pass1Done
	Pass2Active
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingPass1:
		return "awaiting_pass1"
	case Pass1Active:
		return "pass1_active"
	case Pass1Done:
		return "pass1_done"
	case Pass2Active:
		return "pass2_active"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Policy decides what Emit does with candidates whose rings did not all
// close.
type Policy int

const (
	// PolicyDropIncomplete emits no area when a ring is not closed.
	PolicyDropIncomplete Policy = iota
	// PolicyEmitPartial emits the rings that did close and flags the area.
	PolicyEmitPartial
)

// ParsePolicy maps "drop" and "partial" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop":
		return PolicyDropIncomplete, nil
	case "partial":
		return PolicyEmitPartial, nil
	}
	return 0, fmt.Errorf("unknown partial policy %q", s)
}

// Candidate is everything needed to assemble one area. The collector
// copies tags and segments into it, so it does not reference input chunks.
type Candidate struct {
	AreaID   int64
	Tags     []arena.Tag
	Segments []geom.Segment
	// Problems found while collecting, before assembly.
	Problems []area.Problem
}

// ObjectID returns the id of the source way or relation.
func (c *Candidate) ObjectID() int64 { return area.AreaIDToObjectID(c.AreaID) }

// Kind returns the kind of the source object.
func (c *Candidate) Kind() entity.Kind { return area.AreaIDKind(c.AreaID) }

// Handler receives candidates that are ready for assembly. It takes
// ownership of the candidate.
type Handler func(*Candidate) error

// Options configure a Collector.
type Options struct {
	Filter    filter.Filter
	Locations nodeindex.Index
	Policy    Policy
	// WayAreas enables single-way candidates for closed area ways.
	WayAreas bool
}

type membership struct {
	relationID int64
	role       geom.Role
}

type pendingRelation struct {
	cand      *Candidate
	remaining map[int64]struct{}
}

// Collector runs the two-pass protocol. Read and Finish calls must come
// from one goroutine; Emit and Stats may be called concurrently with them.
type Collector struct {
	opts  Options
	state State
	log   *zap.Logger

	needed    *index.IDSet
	relations map[int64]*pendingRelation
	ways      map[int64][]membership

	stats counters
}

// New creates a collector in state AwaitingPass1.
func New(opts Options) *Collector {
	if opts.Filter == nil {
		opts.Filter = filter.NewTagFilter(nil)
	}
	if opts.Locations == nil {
		opts.Locations = nodeindex.NewSparseIndex()
	}
	c := &Collector{opts: opts, log: logger.Get()}
	c.Reset()
	return c
}

// State returns the current state.
func (c *Collector) State() State { return c.state }

// Reset drops all collected data and returns to AwaitingPass1.
func (c *Collector) Reset() {
	c.state = AwaitingPass1
	c.needed = index.NewIDSet()
	c.relations = make(map[int64]*pendingRelation)
	c.ways = make(map[int64][]membership)
	c.stats.reset()
}

func (c *Collector) expect(op string, states ...State) error {
	if !slices.Contains(states, c.state) {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, c.state)
	}
	return nil
}

// ReadRelations runs pass 1 over one chunk. Items other than relations
// are skipped.
func (c *Collector) ReadRelations(ctx context.Context, v arena.View) error {
	if err := c.expect("ReadRelations", AwaitingPass1, Pass1Active); err != nil {
		return err
	}
	c.state = Pass1Active

	it := v.Iterator()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		if item.Type() != arena.TypeRelation {
			continue
		}
		rel, err := item.AsRelation()
		if err != nil {
			return err
		}
		if err := c.addRelation(rel); err != nil {
			return err
		}
	}
	return it.Err()
}

func (c *Collector) addRelation(rel arena.Relation) error {
	c.stats.relations.Add(1)
	tags := rel.Tags()
	ok, err := c.opts.Filter.IsAreaRelation(tags.Map())
	if err != nil {
		return fmt.Errorf("relation %d: %w", rel.ID(), err)
	}
	if !ok {
		return nil
	}
	if _, dup := c.relations[rel.ID()]; dup {
		return nil
	}

	pending := &pendingRelation{
		cand: &Candidate{
			AreaID: area.ObjectIDToAreaID(rel.ID(), entity.KindRelation),
			Tags:   tags.Tags(),
		},
		remaining: make(map[int64]struct{}),
	}
	for m := range rel.Members() {
		if m.Type != entity.KindWay {
			continue
		}
		pending.remaining[m.Ref] = struct{}{}
		c.needed.Set(m.Ref)
		c.ways[m.Ref] = append(c.ways[m.Ref], membership{relationID: rel.ID(), role: geom.ParseRole(m.Role)})
	}
	if len(pending.remaining) == 0 {
		return nil
	}
	c.relations[rel.ID()] = pending
	c.stats.candidates.Add(1)
	return nil
}

// EndPass1 closes pass 1.
func (c *Collector) EndPass1() error {
	if err := c.expect("EndPass1", AwaitingPass1, Pass1Active); err != nil {
		return err
	}
	c.state = Pass1Done
	c.log.Debug("Collector pass 1 complete",
		zap.Int64("relations", c.stats.relations.Load()),
		zap.Int("candidates", len(c.relations)),
		zap.Int("needed_ways", c.needed.Len()))
	return nil
}

// ReadWays runs pass 2 over one chunk. Nodes feed the location index,
// needed ways are added to their relations and completed relations are
// passed to h.
func (c *Collector) ReadWays(ctx context.Context, v arena.View, h Handler) error {
	if err := c.expect("ReadWays", Pass1Done, Pass2Active); err != nil {
		return err
	}
	c.state = Pass2Active

	it := v.Iterator()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		switch item.Type() {
		case arena.TypeNode:
			n, err := item.AsNode()
			if err != nil {
				return err
			}
			if err := c.opts.Locations.Set(n.ID(), n.Location()); err != nil {
				c.log.Debug("Node location not stored", zap.Int64("node_id", n.ID()), zap.Error(err))
			}
			c.stats.nodes.Add(1)
		case arena.TypeWay:
			w, err := item.AsWay()
			if err != nil {
				return err
			}
			if err := c.addWay(w, h); err != nil {
				return err
			}
		}
	}
	return it.Err()
}

// resolve returns the way's node refs with locations filled in. Repeated
// consecutive node ids are collapsed. Unresolvable nodes are dropped and
// reported.
func (c *Collector) resolve(w arena.Way) ([]geom.NodeRef, []area.Problem) {
	nodes := w.Nodes()
	refs := make([]geom.NodeRef, 0, nodes.Len())
	var problems []area.Problem
	for _, n := range nodes.All() {
		if len(refs) > 0 && refs[len(refs)-1].ID == n.ID {
			continue
		}
		if !n.Loc.IsDefined() {
			loc, err := c.opts.Locations.Get(n.ID)
			if err != nil {
				problems = append(problems, area.Problem{
					Kind: area.ProblemMissingLocation,
					Node: n,
					Loc:  geom.Undefined,
				})
				continue
			}
			n.Loc = loc
		}
		refs = append(refs, n)
	}
	return refs, problems
}

func segmentsOf(refs []geom.NodeRef, role geom.Role, wayID int64) []geom.Segment {
	segs := make([]geom.Segment, 0, max(len(refs)-1, 0))
	for i := 0; i+1 < len(refs); i++ {
		segs = append(segs, geom.NewSegment(refs[i], refs[i+1], role, wayID))
	}
	return segs
}

func (c *Collector) addWay(w arena.Way, h Handler) error {
	id := w.ID()
	members, needed := c.ways[id]
	if !needed && !c.opts.WayAreas {
		return nil
	}
	if !needed && !w.IsClosed() {
		return nil
	}

	var tags map[string]string
	if !needed {
		tags = w.Tags().Map()
		ok, err := c.opts.Filter.IsAreaWay(tags)
		if err != nil {
			return fmt.Errorf("way %d: %w", id, err)
		}
		if !ok {
			return nil
		}
	}

	refs, problems := c.resolve(w)
	// a closed way needs at least three distinct nodes to enclose anything
	tooFew := len(refs) < 2 || !needed && w.Nodes().Len() < 4
	if tooFew {
		problems = append(problems, area.Problem{
			Kind: area.ProblemTooFewNodes,
			Node: geom.NodeRef{ID: id, Loc: geom.Undefined},
			Loc:  geom.Undefined,
		})
	}

	if !needed {
		c.stats.wayCandidates.Add(1)
		cand := &Candidate{
			AreaID:   area.ObjectIDToAreaID(id, entity.KindWay),
			Tags:     w.Tags().Tags(),
			Problems: problems,
		}
		if !tooFew {
			cand.Segments = segmentsOf(refs, geom.RoleUnknown, id)
		}
		return h(cand)
	}

	c.stats.waysUsed.Add(1)
	c.needed.Unset(id)
	delete(c.ways, id)
	for _, m := range members {
		pending, ok := c.relations[m.relationID]
		if !ok {
			continue
		}
		pending.cand.Segments = append(pending.cand.Segments, segmentsOf(refs, m.role, id)...)
		pending.cand.Problems = append(pending.cand.Problems, problems...)
		delete(pending.remaining, id)
		if len(pending.remaining) == 0 {
			delete(c.relations, m.relationID)
			if err := h(pending.cand); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finish ends pass 2. Relations still missing member ways are passed to h
// with a missing_member problem per absent way, in relation id order.
func (c *Collector) Finish(ctx context.Context, h Handler) error {
	if err := c.expect("Finish", Pass1Done, Pass2Active); err != nil {
		return err
	}
	ids := make([]int64, 0, len(c.relations))
	for id := range c.relations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending := c.relations[id]
		missing := make([]int64, 0, len(pending.remaining))
		for wayID := range pending.remaining {
			missing = append(missing, wayID)
		}
		slices.Sort(missing)
		for _, wayID := range missing {
			pending.cand.Problems = append(pending.cand.Problems, area.Problem{
				Kind: area.ProblemMissingMember,
				Node: geom.NodeRef{ID: wayID, Loc: geom.Undefined},
				Loc:  geom.Undefined,
			})
		}
		c.stats.incomplete.Add(1)
		delete(c.relations, id)
		if err := h(pending.cand); err != nil {
			return err
		}
	}
	c.needed.Clear()
	clear(c.ways)
	c.state = Done
	return nil
}

// Assemble runs the area assembler on a candidate.
func Assemble(cand *Candidate) area.Result {
	return area.Assemble(cand.Segments)
}

// Emit writes the area for cand into out according to the policy, followed
// by one problem item per problem. It reports whether an area was written.
func (c *Collector) Emit(out *arena.Buffer, cand *Candidate, res area.Result) (bool, error) {
	problems := make([]area.Problem, 0, len(cand.Problems)+len(res.Problems))
	problems = append(problems, cand.Problems...)
	problems = append(problems, res.Problems...)

	emit := res.NumOuter() > 0
	var flags uint16
	if !res.Complete() {
		if c.opts.Policy == PolicyDropIncomplete {
			emit = false
		}
		flags |= arena.FlagPartial
	}

	if emit {
		rec := arena.AreaRecord{ID: cand.AreaID, Flags: flags, Tags: cand.Tags}
		rec.Rings = make([]arena.RingRecord, len(res.Rings))
		for i, r := range res.Rings {
			rec.Rings[i] = arena.RingRecord{
				Outer:      r.Outer,
				OuterIndex: uint32(r.OuterIndex),
				Nodes:      r.Nodes,
			}
		}
		if err := arena.AppendArea(out, rec); err != nil {
			return false, fmt.Errorf("area %d: %w", cand.AreaID, err)
		}
		c.stats.areas.Add(1)
	}

	for _, p := range problems {
		p.AreaID = cand.AreaID
		if err := arena.AppendProblem(out, ProblemRecord(p)); err != nil {
			return emit, fmt.Errorf("area %d problem: %w", cand.AreaID, err)
		}
		c.stats.addProblem(p.Kind)
	}
	return emit, nil
}

// ProblemRecord converts a problem to its arena form.
func ProblemRecord(p area.Problem) arena.ProblemRecord {
	return arena.ProblemRecord{
		Kind:     uint16(p.Kind),
		AreaID:   p.AreaID,
		Node:     p.Node,
		Loc:      p.Loc,
		Segments: p.Segments,
	}
}

// ProblemFromRecord converts an arena problem record back.
func ProblemFromRecord(r arena.ProblemRecord) area.Problem {
	return area.Problem{
		Kind:     area.ProblemKind(r.Kind),
		AreaID:   r.AreaID,
		Node:     r.Node,
		Loc:      r.Loc,
		Segments: r.Segments,
	}
}

// Run executes both passes over a single in-memory input and writes areas
// and problems to out.
func (c *Collector) Run(ctx context.Context, input arena.View, out *arena.Buffer) error {
	if err := c.ReadRelations(ctx, input); err != nil {
		return err
	}
	if err := c.EndPass1(); err != nil {
		return err
	}
	emit := func(cand *Candidate) error {
		_, err := c.Emit(out, cand, Assemble(cand))
		return err
	}
	if err := c.ReadWays(ctx, input, emit); err != nil {
		return err
	}
	return c.Finish(ctx, emit)
}

// Stats is a snapshot of collector counters.
type Stats struct {
	Relations     int64
	Candidates    int64
	WayCandidates int64
	WaysUsed      int64
	Nodes         int64
	Incomplete    int64
	Areas         int64
	Problems      map[area.ProblemKind]int64
}

// TotalProblems sums the problem counts.
func (s Stats) TotalProblems() int64 {
	var n int64
	for _, v := range s.Problems {
		n += v
	}
	return n
}

type counters struct {
	relations     atomic.Int64
	candidates    atomic.Int64
	wayCandidates atomic.Int64
	waysUsed      atomic.Int64
	nodes         atomic.Int64
	incomplete    atomic.Int64
	areas         atomic.Int64

	mu       sync.Mutex
	problems map[area.ProblemKind]int64
}

func (s *counters) reset() {
	s.relations.Store(0)
	s.candidates.Store(0)
	s.wayCandidates.Store(0)
	s.waysUsed.Store(0)
	s.nodes.Store(0)
	s.incomplete.Store(0)
	s.areas.Store(0)
	s.mu.Lock()
	s.problems = make(map[area.ProblemKind]int64)
	s.mu.Unlock()
}

func (s *counters) addProblem(k area.ProblemKind) {
	s.mu.Lock()
	s.problems[k]++
	s.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *Collector) Stats() Stats {
	st := Stats{
		Relations:     c.stats.relations.Load(),
		Candidates:    c.stats.candidates.Load(),
		WayCandidates: c.stats.wayCandidates.Load(),
		WaysUsed:      c.stats.waysUsed.Load(),
		Nodes:         c.stats.nodes.Load(),
		Incomplete:    c.stats.incomplete.Load(),
		Areas:         c.stats.areas.Load(),
		Problems:      make(map[area.ProblemKind]int64),
	}
	c.stats.mu.Lock()
	for k, v := range c.stats.problems {
		st.Problems[k] = v
	}
	c.stats.mu.Unlock()
	return st
}
