package plugin

import (
	"context"
	"fmt"

	"github.com/farm-fe/farm-sub000/internal/graph"
	"github.com/farm-fe/farm-sub000/internal/resource"
)

// Container runs the hooks of every plugin in registration order. It is
// immutable after construction, so it is safe for concurrent use.
type Container struct {
	ctx     *Context
	plugins []string

	resolve      []hook[OnResolveCallback]
	load         []hook[OnLoadCallback]
	transform    []hook[OnTransformCallback]
	parse        []hook[OnParseCallback]
	analyzeDeps  []hook[OnAnalyzeDepsCallback]
	graphUpdated []hook[OnModuleGraphUpdatedCallback]
	finalize     []hook[OnFinalizeResourcesCallback]
	cached       []hook[OnHandlePersistentCachedModuleCallback]
}

func NewContainer(ctx *Context, plugins []Plugin) (*Container, error) {
	c := &Container{ctx: ctx}
	for _, p := range plugins {
		build := &pluginBuild{container: c, name: p.Name}
		if p.Setup != nil {
			p.Setup(build)
		}
		if build.err != nil {
			return nil, build.err
		}
		c.plugins = append(c.plugins, p.Name)
	}
	return c, nil
}

func (c *Container) Context() *Context {
	return c.ctx
}

func (c *Container) PluginNames() []string {
	return append([]string{}, c.plugins...)
}

// Resolve returns the first result. A nil result with a nil error means no
// plugin could resolve the specifier.
func (c *Container) Resolve(ctx context.Context, args ResolveArgs) (*ResolveResult, error) {
	for _, h := range c.resolve {
		if !h.matches(args.Source) {
			continue
		}
		result, err := h.callback(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", h.plugin, err)
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

func (c *Container) Load(ctx context.Context, args LoadArgs) (*LoadResult, error) {
	for _, h := range c.load {
		if !h.matches(string(args.Id)) {
			continue
		}
		result, err := h.callback(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", h.plugin, err)
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// Transform threads the content through every matching callback
func (c *Container) Transform(ctx context.Context, args TransformArgs) (*TransformResult, error) {
	current := &TransformResult{Content: args.Content}
	for _, h := range c.transform {
		if !h.matches(string(args.Id)) {
			continue
		}
		args.Content = current.Content
		result, err := h.callback(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", h.plugin, err)
		}
		if result != nil {
			current = result
		}
	}
	return current, nil
}

func (c *Container) Parse(ctx context.Context, args ParseArgs) (*graph.Meta, error) {
	for _, h := range c.parse {
		if !h.matches(string(args.Id)) {
			continue
		}
		meta, err := h.callback(ctx, args)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", h.plugin, err)
		}
		if meta != nil {
			return meta, nil
		}
	}
	return nil, nil
}

func (c *Container) AnalyzeDeps(ctx context.Context, args *AnalyzeDepsArgs) error {
	for _, h := range c.analyzeDeps {
		if !h.matches(string(args.Module.Id)) {
			continue
		}
		if err := h.callback(ctx, args); err != nil {
			return fmt.Errorf("[%s] %w", h.plugin, err)
		}
	}
	return nil
}

func (c *Container) ModuleGraphUpdated(ctx context.Context, args ModuleGraphUpdatedArgs) error {
	for _, h := range c.graphUpdated {
		if err := h.callback(ctx, args); err != nil {
			return fmt.Errorf("[%s] %w", h.plugin, err)
		}
	}
	return nil
}

func (c *Container) FinalizeResources(ctx context.Context, resources resource.Map) error {
	for _, h := range c.finalize {
		if err := h.callback(ctx, resources); err != nil {
			return fmt.Errorf("[%s] %w", h.plugin, err)
		}
	}
	return nil
}

// HandlePersistentCachedModule reports whether any plugin invalidated the
// cached module
func (c *Container) HandlePersistentCachedModule(ctx context.Context, module *graph.Module) (bool, error) {
	for _, h := range c.cached {
		if !h.matches(string(module.Id)) {
			continue
		}
		invalidate, err := h.callback(ctx, module)
		if err != nil {
			return false, fmt.Errorf("[%s] %w", h.plugin, err)
		}
		if invalidate {
			return true, nil
		}
	}
	return false, nil
}
