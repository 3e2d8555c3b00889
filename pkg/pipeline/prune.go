package pipeline

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
)

// PrunePass drops every entity not reachable from a scene root and compacts
// the tables. Animations are retained as roots, but channels targeting a
// pruned node are dropped first, and an animation left without channels is
// removed. Skins referenced by a live mesh-bearing node keep their joints
// and skeleton root alive even when those nodes sit outside the visible
// hierarchy. The byte ranges of dropped buffer views are excluded when the
// encoder repacks the binary chunk.
type PrunePass struct{}

func (PrunePass) Name() string { return "prune" }

func (PrunePass) Apply(ctx context.Context, doc *gltf.Document) Result {
	// Node liveness does not depend on animations, so channels can be
	// filtered up front and reachability computed once afterwards, with the
	// accessors of dropped samplers already released.
	nodes := document.ReachableNodes(doc)
	for _, an := range doc.Animations {
		pruneAnimationChannels(an, nodes)
	}

	reach := document.Reachable(doc)
	for i, an := range doc.Animations {
		if len(an.Channels) == 0 {
			reach.Remove(document.KindAnimation, i)
		}
	}

	if err := document.Compact(doc, reach.Has); err != nil {
		return Failed(fmt.Errorf("compact unreachable entities: %w", err))
	}
	return Applied()
}

// pruneAnimationChannels drops channels that target a node outside the
// reachable set, along with animation-local samplers no channel uses.
func pruneAnimationChannels(an *gltf.Animation, nodes *document.Set) {
	channels := an.Channels[:0]
	for _, c := range an.Channels {
		if c.Target.Node != nil && !nodes.Has(document.KindNode, *c.Target.Node) {
			continue
		}
		channels = append(channels, c)
	}
	an.Channels = channels

	used := make([]bool, len(an.Samplers))
	for _, c := range an.Channels {
		if c.Sampler >= 0 && c.Sampler < len(used) {
			used[c.Sampler] = true
		}
	}
	remap := make([]int, len(an.Samplers))
	samplers := an.Samplers[:0]
	next := 0
	for i, s := range an.Samplers {
		if used[i] {
			remap[i] = next
			samplers = append(samplers, s)
			next++
		} else {
			remap[i] = -1
		}
	}
	an.Samplers = samplers
	for _, c := range an.Channels {
		if c.Sampler >= 0 && c.Sampler < len(remap) && remap[c.Sampler] >= 0 {
			c.Sampler = remap[c.Sampler]
		}
	}
}
