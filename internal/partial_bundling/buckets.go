package partial_bundling

import (
	"sort"
	"strconv"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
)

type bucket struct {
	config  *bucketConfig
	groups  graph.ModuleGroupSet
	modules map[graph.ModuleId]*module
}

func (bk *bucket) size() int64 {
	var size int64
	for _, m := range bk.modules {
		size += m.Size
	}
	return size
}

func (bk *bucket) sortedModules() []*module {
	modules := make([]*module, 0, len(bk.modules))
	for _, m := range bk.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].Id < modules[j].Id })
	return modules
}

func (bk *bucket) key() string {
	u := unit{modules: bk.sortedModules()}
	return u.key()
}

// A module goes into one bucket per matching config, keyed by the exact
// set of groups it belongs to
func (b *bundler) buildBuckets(modules []*module) []*bucket {
	byKey := make(map[string]*bucket)
	var buckets []*bucket
	for _, m := range modules {
		groupKey := m.ModuleGroups.Key()
		for _, c := range b.configs {
			if !c.matches(m.Id) {
				continue
			}
			key := strconv.Itoa(c.index) + "\x01" + groupKey
			bk := byKey[key]
			if bk == nil {
				bk = &bucket{config: c, groups: m.ModuleGroups.Clone(), modules: make(map[graph.ModuleId]*module)}
				byKey[key] = bk
				buckets = append(buckets, bk)
			}
			bk.modules[m.Id] = m
		}
	}

	kept := buckets[:0]
	for _, bk := range buckets {
		if bk.config.MinSize > 0 && bk.size() < bk.config.MinSize {
			continue
		}
		kept = append(kept, bk)
	}
	buckets = kept

	// Modules whose buckets were all too small fall back to the default one
	inBucket := make(map[graph.ModuleId]bool)
	for _, bk := range buckets {
		for id := range bk.modules {
			inBucket[id] = true
		}
	}
	fallback := b.defaultConfig()
	for _, m := range modules {
		if inBucket[m.Id] {
			continue
		}
		key := "fallback\x01" + m.ModuleGroups.Key()
		bk := byKey[key]
		if bk == nil {
			bk = &bucket{config: fallback, groups: m.ModuleGroups.Clone(), modules: make(map[graph.ModuleId]*module)}
			byKey[key] = bk
			buckets = append(buckets, bk)
		}
		bk.modules[m.Id] = m
	}
	return buckets
}

func (b *bundler) defaultConfig() *bucketConfig {
	for _, c := range b.configs {
		if c.Name == defaultBucketName {
			return c
		}
	}
	panic("Internal error: missing default bucket")
}

func unitName(bk *bucket) string {
	return bk.config.Name + "_" + helpers.ShortHash(bk.groups.Key())
}

// The assignment loop. Buckets are taken by weight, then by how many
// existing units share a group with them, then by size.
func (b *bundler) assignBuckets(buckets []*bucket) []*unit {
	var units []*unit
	remaining := append([]*bucket{}, buckets...)

	for len(remaining) > 0 {
		best := b.pickBucket(remaining, units)
		bk := remaining[best]
		remaining = append(remaining[:best:best], remaining[best+1:]...)
		if len(bk.modules) == 0 {
			continue
		}
		modules := bk.sortedModules()

		placed := modules
		if bk.config.ReuseExistingResourcePot {
			placed = reuseUnits(units, bk.groups, modules)
		}
		if len(placed) > 0 {
			units = append(units, b.unitsForBucket(bk, placed)...)
		}

		for _, other := range remaining {
			for _, m := range modules {
				delete(other.modules, m.Id)
			}
		}
	}
	return units
}

// Each module joins the first unit that shares a group with the bucket and
// already holds a module of the same class, whichever bucket made that unit.
// The modules that found no such unit are returned.
func reuseUnits(units []*unit, groups graph.ModuleGroupSet, modules []*module) []*module {
	var owners []*unit
	for _, u := range units {
		if u.groups().Intersects(groups) {
			owners = append(owners, u)
		}
	}
	var rest []*module
	touched := make(map[*unit]bool)
	for _, m := range modules {
		c := class{potType: m.potType, immutable: m.immutable}
		var target *unit
		for _, u := range owners {
			if u.hasClass(c) {
				target = u
				break
			}
		}
		if target == nil {
			rest = append(rest, m)
			continue
		}
		target.modules = append(target.modules, m)
		touched[target] = true
	}
	for u := range touched {
		u.sortModules()
	}
	return rest
}

func (b *bundler) pickBucket(buckets []*bucket, units []*unit) int {
	type score struct {
		weight        float64
		intersections int
		size          int64
		key           string
	}
	scores := make([]score, len(buckets))
	for i, bk := range buckets {
		s := score{weight: bk.config.Weight, size: bk.size(), key: bk.key()}
		for _, u := range units {
			if u.groups().Intersects(bk.groups) {
				s.intersections++
			}
		}
		scores[i] = s
	}

	best := 0
	for i := 1; i < len(buckets); i++ {
		a, c := scores[i], scores[best]
		switch {
		case a.weight != c.weight:
			if a.weight > c.weight {
				best = i
			}
		case a.intersections != c.intersections:
			if a.intersections > c.intersections {
				best = i
			}
		case a.size != c.size:
			if a.size > c.size {
				best = i
			}
		case a.key < c.key:
			best = i
		}
	}
	return best
}

// A bucket with a request limit that is larger than the target size is cut
// into several units, in execution order
func (b *bundler) unitsForBucket(bk *bucket, modules []*module) []*unit {
	name := unitName(bk)
	limit := bk.config.MaxConcurrentRequests
	if limit <= 1 {
		u := newUnit(name, bk.config.Name)
		u.modules = modules
		return []*unit{u}
	}

	var immutableSize, mutableSize int64
	for _, m := range modules {
		if m.immutable {
			immutableSize += m.Size
		} else {
			mutableSize += m.Size
		}
	}
	target := b.targetSize(bk.groups, immutableSize > mutableSize)
	size := immutableSize + mutableSize
	if target == 0 || size <= target {
		u := newUnit(name, bk.config.Name)
		u.modules = modules
		return []*unit{u}
	}

	count := int((size + target - 1) / target)
	if count > limit {
		count = limit
	}
	ordered := append([]*module{}, modules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ExecutionOrder != ordered[j].ExecutionOrder {
			return ordered[i].ExecutionOrder < ordered[j].ExecutionOrder
		}
		return ordered[i].Id < ordered[j].Id
	})

	chunk := (size + int64(count) - 1) / int64(count)
	var units []*unit
	current := newUnit(name, bk.config.Name)
	var currentSize int64
	for _, m := range ordered {
		if currentSize >= chunk && len(units) < count-1 {
			current.sortModules()
			units = append(units, current)
			current = newUnit(name, bk.config.Name)
			currentSize = 0
		}
		current.modules = append(current.modules, m)
		currentSize += m.Size
	}
	current.sortModules()
	return append(units, current)
}
