package partial_bundling

// Partial bundling assigns every module to exactly one resource pot. It runs
// after module groups are known and works in passes over a list of units:
//
//   - Modules are sorted into buckets. A bucket is one bucket config plus the
//     exact set of module groups a module belongs to, so every module of a
//     bucket is loaded by the same groups.
//
//   - Buckets are turned into units in priority order.
//
//   - Units are split so each one has a single pot type and mutability, then
//     small units are merged and units are merged until every group loads at
//     most the configured number of pots.
//
// Every tie is broken on the sorted module ids of the units involved, which
// makes the result stable across runs.

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/farm-fe/farm-sub000/internal/config"
	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/helpers"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

const defaultBucketName = "default"

type module struct {
	*graph.Module
	immutable bool
	potType   resource.PotType
}

// Compatible modules may share a pot
type class struct {
	potType   resource.PotType
	immutable bool
}

func (c class) mergeable() bool {
	return c.potType == resource.PotJs || c.potType == resource.PotCss
}

type bucketConfig struct {
	config.ModuleBucketOptions
	index int
	tests []*regexp.Regexp
}

func (c *bucketConfig) matches(id graph.ModuleId) bool {
	for _, re := range c.tests {
		if re.MatchString(string(id)) {
			return true
		}
	}
	return false
}

type bundler struct {
	options config.PartialBundlingOptions
	log     logger.Log
	configs []*bucketConfig

	immutableBudget int
	mutableBudget   int

	// group -> total size of immutable and mutable modules
	totals map[graph.ModuleGroupId][2]int64
}

// GenerateResourcePots partitions the modules into resource pots. External
// modules and placeholders must not be passed in. Modules must have their
// module groups and execution order set.
func GenerateResourcePots(modules []*graph.Module, options config.PartialBundlingOptions, log logger.Log) ([]*resource.ResourcePot, error) {
	b, err := newBundler(options, log)
	if err != nil {
		return nil, err
	}

	immutableModules, err := compilePatterns(options.ImmutableModules)
	if err != nil {
		return nil, fmt.Errorf("partial_bundling.immutable_modules: %w", err)
	}

	sorted := make([]*module, 0, len(modules))
	for _, m := range modules {
		if m.External || m.Placeholder {
			panic(fmt.Sprintf("Internal error: cannot bundle %q", m.Id))
		}
		sorted = append(sorted, &module{
			Module:    m,
			immutable: m.Immutable || matchesAny(immutableModules, string(m.Id)),
			potType:   resource.PotTypeOf(m.ModuleType),
		})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id < sorted[j].Id })

	b.computeTotals(sorted)
	units := b.assignBuckets(b.buildBuckets(sorted))
	units = splitUnits(units)
	if options.EnforceTargetMinSize {
		units = b.enforceMinSize(units)
	}
	if options.EnforceTargetConcurrentRequests && options.TargetConcurrentRequests > 0 {
		units = b.enforceRequests(units)
	}

	pots := make([]*resource.ResourcePot, 0, len(units))
	for _, u := range units {
		pots = append(pots, u.toPot())
	}
	resource.SortPots(pots)
	verify(modules, pots)
	return pots, nil
}

func newBundler(options config.PartialBundlingOptions, log logger.Log) (*bundler, error) {
	b := &bundler{options: options, log: log, totals: make(map[graph.ModuleGroupId][2]int64)}

	hasDefault := false
	for i, bucket := range options.ModuleBuckets {
		tests, err := compilePatterns(bucket.Test)
		if err != nil {
			return nil, fmt.Errorf("partial_bundling.module_buckets[%d]: %w", i, err)
		}
		b.configs = append(b.configs, &bucketConfig{ModuleBucketOptions: bucket, index: i, tests: tests})
		if bucket.Name == defaultBucketName {
			hasDefault = true
		}
	}
	if !hasDefault {
		b.configs = append(b.configs, &bucketConfig{
			ModuleBucketOptions: config.ModuleBucketOptions{Name: defaultBucketName, Test: []string{".*"}},
			index:               len(b.configs),
			tests:               []*regexp.Regexp{regexp.MustCompile(".*")},
		})
	}

	b.immutableBudget, b.mutableBudget = splitBudget(options.TargetConcurrentRequests, options.ImmutableModulesWeight)
	return b, nil
}

// Zero requests means unlimited, which is reported as zero for both halves
func splitBudget(requests int, weight float64) (int, int) {
	if requests <= 0 {
		return 0, 0
	}
	immutable := int(math.Floor(float64(requests) * weight))
	if immutable < 1 {
		immutable = 1
	}
	mutable := requests - immutable
	if mutable < 1 {
		mutable = 1
	}
	return immutable, mutable
}

func (b *bundler) computeTotals(modules []*module) {
	for _, m := range modules {
		half := 1
		if m.immutable {
			half = 0
		}
		for group := range m.ModuleGroups {
			totals := b.totals[group]
			totals[half] += m.Size
			b.totals[group] = totals
		}
	}
}

// targetSize is the size a unit of this mutability should have for the
// given groups to stay within their request budget. Zero means unlimited.
func (b *bundler) targetSize(groups graph.ModuleGroupSet, immutable bool) int64 {
	budget, half := b.mutableBudget, 1
	if immutable {
		budget, half = b.immutableBudget, 0
	}
	if budget == 0 {
		return 0
	}
	var target int64
	for group := range groups {
		if size := b.totals[group][half] / int64(budget); size > target {
			target = size
		}
	}
	if target < b.options.TargetMinSize {
		target = b.options.TargetMinSize
	}
	return target
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

type unit struct {
	name    string
	bucket  string
	modules []*module
}

func newUnit(name string, bucket string) *unit {
	return &unit{name: name, bucket: bucket}
}

func (u *unit) size() int64 {
	var size int64
	for _, m := range u.modules {
		size += m.Size
	}
	return size
}

func (u *unit) groups() graph.ModuleGroupSet {
	groups := graph.ModuleGroupSet{}
	for _, m := range u.modules {
		for group := range m.ModuleGroups {
			groups.Add(group)
		}
	}
	return groups
}

// Only meaningful after the split pass
func (u *unit) class() class {
	return class{potType: u.modules[0].potType, immutable: u.modules[0].immutable}
}

func (u *unit) hasClass(c class) bool {
	for _, m := range u.modules {
		if m.potType == c.potType && m.immutable == c.immutable {
			return true
		}
	}
	return false
}

func (u *unit) sortModules() {
	sort.Slice(u.modules, func(i, j int) bool { return u.modules[i].Id < u.modules[j].Id })
}

func (u *unit) key() string {
	ids := make([]string, len(u.modules))
	for i, m := range u.modules {
		ids[i] = string(m.Id)
	}
	sort.Strings(ids)
	return strings.Join(ids, "\x00")
}

func (u *unit) merge(other *unit) {
	u.modules = append(u.modules, other.modules...)
	u.sortModules()
}

func (u *unit) toPot() *resource.ResourcePot {
	ids := make([]graph.ModuleId, len(u.modules))
	for i, m := range u.modules {
		ids[i] = m.Id
	}
	byId := make(map[graph.ModuleId]*module, len(u.modules))
	for _, m := range u.modules {
		byId[m.Id] = m
	}

	// Dependencies first
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := byId[ids[i]], byId[ids[j]]
		if a.ExecutionOrder != b.ExecutionOrder {
			return a.ExecutionOrder < b.ExecutionOrder
		}
		return a.Id < b.Id
	})

	c := u.class()
	pot := &resource.ResourcePot{
		Id:           u.bucket + "_" + helpers.ShortHash(u.key()),
		Name:         u.name,
		Type:         c.potType,
		Modules:      ids,
		Immutable:    c.immutable,
		ModuleGroups: u.groups(),
	}
	for _, id := range ids {
		if byId[id].IsEntry {
			pot.EntryModule = id
			break
		}
	}
	return pot
}

// Orders units by size, then by their module ids
func sortUnits(units []*unit) {
	sizes := make(map[*unit]int64, len(units))
	keys := make(map[*unit]string, len(units))
	for _, u := range units {
		sizes[u] = u.size()
		keys[u] = u.key()
	}
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if sizes[a] != sizes[b] {
			return sizes[a] < sizes[b]
		}
		return keys[a] < keys[b]
	})
}

// The split pass. Every unit becomes one unit per (pot type, mutability).
func splitUnits(units []*unit) []*unit {
	var result []*unit
	for _, u := range units {
		byClass := make(map[class]*unit)
		var order []class
		for _, m := range u.modules {
			c := class{potType: m.potType, immutable: m.immutable}
			part := byClass[c]
			if part == nil {
				part = newUnit(u.name, u.bucket)
				byClass[c] = part
				order = append(order, c)
			}
			part.modules = append(part.modules, m)
		}
		for _, c := range order {
			byClass[c].sortModules()
			result = append(result, byClass[c])
		}
	}
	sortUnits(result)
	return result
}

// Smallest compatible unit other than u among the candidates. The
// candidates must already be sorted.
func smallestPeer(u *unit, candidates []*unit) *unit {
	c := u.class()
	for _, other := range candidates {
		if other != u && other.class() == c {
			return other
		}
	}
	return nil
}

func removeUnit(units []*unit, u *unit) []*unit {
	for i, other := range units {
		if other == u {
			return append(units[:i:i], units[i+1:]...)
		}
	}
	return units
}

// Merges units below the minimum size into their smallest compatible peer
// until no small unit has a peer left
func (b *bundler) enforceMinSize(units []*unit) []*unit {
	minSize := b.options.TargetMinSize
	for {
		sortUnits(units)
		merged := false
		for _, u := range units {
			if u.size() >= minSize || !u.class().mergeable() {
				continue
			}
			if peer := smallestPeer(u, units); peer != nil {
				peer.merge(u)
				units = removeUnit(units, u)
				merged = true
				break
			}
		}
		if !merged {
			return units
		}
	}
}

// Merges the smallest units of each over-budget group into their smallest
// compatible peer inside the same group. Merging never adds a unit to any
// group, so groups that were already within budget stay within budget.
func (b *bundler) enforceRequests(units []*unit) []*unit {
	budget := b.options.TargetConcurrentRequests

	groupSet := graph.ModuleGroupSet{}
	for _, u := range units {
		for group := range u.groups() {
			groupSet.Add(group)
		}
	}

	for _, group := range groupSet.Sorted() {
		for {
			var touching []*unit
			for _, u := range units {
				if u.groups().Has(group) {
					touching = append(touching, u)
				}
			}
			if len(touching) <= budget {
				break
			}
			sortUnits(touching)

			merged := false
			for _, u := range touching {
				if !u.class().mergeable() {
					continue
				}
				if peer := smallestPeer(u, touching); peer != nil {
					peer.merge(u)
					units = removeUnit(units, u)
					merged = true
					break
				}
			}
			if !merged {
				if b.log.AddMsg != nil {
					b.log.AddID(logger.MsgID_Bundle_RequestBudgetExceeded, logger.Warning, nil,
						fmt.Sprintf("Module group %q needs %d resources, more than the target of %d", group, len(touching), budget))
				}
				break
			}
		}
	}
	sortUnits(units)
	return units
}
