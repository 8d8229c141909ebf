// Package ls lists every cluster the launcher can see.
package ls

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/reconciler"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var (
	listLong    = "List the clusters launched by daft, with the state and address of every instance"
	listExample = `
  daft list
  daft list --running --head
  daft list --name '^analytics' --region us-west-2 --region eu-west-1
	`
)

type ListStore interface {
	util.ProviderStore
	GetDefaultRegion() string
}

type Options struct {
	Running bool
	Name    string
	Head    bool
	Regions []string
	// Sleep waits between Describe retries; nil waits in real time.
	Sleep retry.SleepFunc
}

func NewCmdList(t *terminal.Terminal, store ListStore) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:                   "list",
		Aliases:               []string{"ls"},
		DisableFlagsInUseLine: true,
		Short:                 "List clusters",
		Long:                  listLong,
		Example:               listExample,
		Args:                  cmderrors.TransformToValidationError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := RunList(cmd.Context(), t, store, opts)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Running, "running", "r", false, "only show running clusters")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "only show clusters whose name matches this regex")
	cmd.Flags().BoolVar(&opts.Head, "head", false, "only show head nodes")
	cmd.Flags().StringSliceVar(&opts.Regions, "region", nil, "regions to list (repeatable, default AWS_REGION or us-west-2)")
	return cmd
}

func RunList(ctx context.Context, t *terminal.Terminal, store ListStore, opts Options) error {
	filter := reconciler.Filter{RunningOnly: opts.Running, HeadOnly: opts.Head}
	if opts.Name != "" {
		re, err := regexp.Compile(opts.Name)
		if err != nil {
			return dafterrors.NewValidationError(fmt.Sprintf("--name %q is not a valid regex: %s", opts.Name, err))
		}
		filter.Name = re
	}

	instances, err := describeRegions(ctx, t, store, regionsOrDefault(opts.Regions, store.GetDefaultRegion()), opts.Sleep)
	if err != nil {
		return err
	}
	views := filter.Apply(reconciler.Reconcile(instances))
	if len(views) == 0 {
		t.Vprint("No clusters found")
		return nil
	}
	t.RenderTable([]string{"Name", "Instance ID", "Role", "Status", "IPv4"}, Rows(views))
	return nil
}

func regionsOrDefault(regions []string, fallback string) []string {
	regions = lo.Uniq(lo.Compact(regions))
	if len(regions) == 0 {
		return []string{fallback}
	}
	return regions
}

// describeRegions queries every region concurrently. A failing region is reported and
// skipped; the listing only fails when every region does.
func describeRegions(ctx context.Context, t *terminal.Terminal, store ListStore, regions []string, sleep retry.SleepFunc) ([]provider.Instance, error) {
	perRegion := make([][]provider.Instance, len(regions))
	errs := make([]error, len(regions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			p, err := store.GetProvider(gctx, clusterspec.ProviderAWS, region, nil)
			if err == nil {
				perRegion[i], err = provider.DescribeWithRetry(gctx, p, mo.None[string](), sleep)
			}
			if err != nil {
				mu.Lock()
				t.Eprint(t.Yellow("warning: could not list %s: %s", region, dafterrors.Root(err)))
				mu.Unlock()
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if lo.EveryBy(errs, func(err error) bool { return err != nil }) {
		return nil, errs[0]
	}
	return lo.Flatten(perRegion), nil
}

// Rows renders one row per instance, head first within each cluster.
func Rows(views []reconciler.ClusterView) [][]string {
	title := cases.Title(language.English)
	rows := [][]string{}
	for _, v := range views {
		for _, inst := range v.Instances {
			rows = append(rows, []string{
				v.Name,
				inst.InstanceID,
				title.String(inst.Role.String()),
				title.String(inst.State.String()),
				inst.PublicIP.OrElse("-"),
			})
		}
	}
	return rows
}
