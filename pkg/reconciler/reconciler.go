// Package reconciler groups the instances a provider reports into per-cluster views.
package reconciler

import (
	"regexp"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
)

type AggregateState int

const (
	Running AggregateState = iota
	ShuttingDown
	Terminated
)

func (s AggregateState) String() string {
	switch s {
	case ShuttingDown:
		return "Shutting-down"
	case Terminated:
		return "Terminated"
	default:
		return "Running"
	}
}

type ClusterView struct {
	Name      string
	Provider  clusterspec.ProviderKind
	Region    string
	State     AggregateState
	Instances []provider.Instance
}

type key struct {
	provider clusterspec.ProviderKind
	name     string
}

// Reconcile groups instances by (provider, cluster name) in first-seen order.
// Within a view the head comes first, then workers in discovery order.
func Reconcile(instances []provider.Instance) []ClusterView {
	groups := orderedmap.New[key, []provider.Instance]()
	for _, inst := range instances {
		k := key{provider: inst.Provider, name: inst.ClusterName}
		existing, _ := groups.Get(k)
		groups.Set(k, append(existing, inst))
	}

	views := make([]ClusterView, 0, groups.Len())
	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		ordered := headFirst(pair.Value)
		views = append(views, ClusterView{
			Name:      pair.Key.name,
			Provider:  pair.Key.provider,
			Region:    ordered[0].Region,
			State:     Aggregate(ordered),
			Instances: ordered,
		})
	}
	return views
}

// Aggregate: any shutting-down instance wins, then all-terminated, otherwise running.
// Pending instances count as running.
func Aggregate(instances []provider.Instance) AggregateState {
	if len(instances) == 0 {
		return Terminated
	}
	allTerminated := true
	for _, inst := range instances {
		if inst.State == provider.ShuttingDown {
			return ShuttingDown
		}
		if inst.State != provider.Terminated {
			allTerminated = false
		}
	}
	if allTerminated {
		return Terminated
	}
	return Running
}

func headFirst(instances []provider.Instance) []provider.Instance {
	out := make([]provider.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Role == provider.Head {
			out = append(out, inst)
		}
	}
	for _, inst := range instances {
		if inst.Role != provider.Head {
			out = append(out, inst)
		}
	}
	return out
}

type Filter struct {
	RunningOnly bool
	Name        *regexp.Regexp
	HeadOnly    bool
}

// Apply drops views and instances that do not match. Views left without instances are dropped.
func (f Filter) Apply(views []ClusterView) []ClusterView {
	out := make([]ClusterView, 0, len(views))
	for _, v := range views {
		if f.RunningOnly && v.State != Running {
			continue
		}
		if f.Name != nil && !f.Name.MatchString(v.Name) {
			continue
		}
		if f.HeadOnly {
			heads := make([]provider.Instance, 0, 1)
			for _, inst := range v.Instances {
				if inst.Role == provider.Head {
					heads = append(heads, inst)
				}
			}
			if len(heads) == 0 {
				continue
			}
			v.Instances = heads
		}
		out = append(out, v)
	}
	return out
}

// RunningHead returns the view's running head with a public address.
func RunningHead(v ClusterView) (provider.Instance, bool) {
	for _, inst := range v.Instances {
		if inst.Role == provider.Head && inst.State == provider.Running && inst.PublicIP.IsPresent() {
			return inst, true
		}
	}
	return provider.Instance{}, false
}

// Find returns the view named name, if any.
func Find(views []ClusterView, name string) (ClusterView, bool) {
	for _, v := range views {
		if v.Name == name {
			return v, true
		}
	}
	return ClusterView{}, false
}
