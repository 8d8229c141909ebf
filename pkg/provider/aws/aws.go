// Package aws is the EC2 implementation of provider.Provider.
//
// Nodes are created by the Ray autoscaler, which tags every instance with
// ray-cluster-name and ray-node-type. Describe and Terminate work on those tags
// directly through the EC2 API.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/autoscaler"
	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
)

const (
	TagClusterName = "ray-cluster-name"
	TagNodeType    = "ray-node-type"
	headNodeType   = "head"
)

type EC2API interface {
	ec2.DescribeInstancesAPIClient
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type Provider struct {
	region string
	ec2    EC2API
	sts    STSAPI
	runner autoscaler.Runner
	fs     afero.Fs
	logger *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

func New(region string, ec2Client EC2API, stsClient STSAPI, runner autoscaler.Runner, fs afero.Fs, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		region: region,
		ec2:    ec2Client,
		sts:    stsClient,
		runner: runner,
		fs:     fs,
		logger: logger.Named("aws"),
	}
}

// Factory builds a Provider from the default AWS credential chain.
func Factory(fs afero.Fs, rayBinary string) provider.Factory {
	return func(ctx context.Context, opts provider.Options) (provider.Provider, error) {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
		if opts.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, &provider.ProviderError{Kind: provider.Permission, Op: "load credentials", Provider: clusterspec.ProviderAWS, Err: err}
		}
		runner := autoscaler.RayCLI{
			Binary: rayBinary,
			Stdout: opts.Output,
			Stderr: opts.Output,
			Logger: opts.Logger.Named("ray"),
		}
		return New(opts.Region, ec2.NewFromConfig(cfg), sts.NewFromConfig(cfg), runner, fs, opts.Logger), nil
	}
}

func Register(reg *provider.Registry, fs afero.Fs, rayBinary string) {
	reg.Register(clusterspec.ProviderAWS, Factory(fs, rayBinary))
}

func (p *Provider) checkAuth(ctx context.Context, cluster string) error {
	out, err := p.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		classified := classify("authenticate", cluster, err)
		if provider.IsTransient(classified) {
			return classified
		}
		return &provider.ProviderError{Kind: provider.Permission, Op: "authenticate", Provider: clusterspec.ProviderAWS, Cluster: cluster, Err: err}
	}
	p.logger.Debug("authenticated", zap.String("arn", aws.ToString(out.Arn)))
	return nil
}

func (p *Provider) Launch(ctx context.Context, spec clusterspec.ClusterSpec) (provider.LaunchHandle, error) {
	if err := p.checkAuth(ctx, spec.Name); err != nil {
		return provider.LaunchHandle{}, err
	}

	existing, err := p.Describe(ctx, mo.Some(spec.Name))
	if err != nil {
		return provider.LaunchHandle{}, err
	}
	if lo.ContainsBy(existing, func(i provider.Instance) bool {
		return i.Role == provider.Head && i.State == provider.Running
	}) {
		p.logger.Info("cluster already running", zap.String("cluster", spec.Name))
		return provider.LaunchHandle{ClusterName: spec.Name, AlreadyRunning: true}, nil
	}

	if spec.IAMProfile == "" {
		p.logger.Warn("no iam_instance_profile_arn set; nodes will not be able to reach other AWS services", zap.String("cluster", spec.Name))
	}

	cfg := autoscaler.Generate(spec)
	path, cleanup, err := autoscaler.WriteTemp(p.fs, cfg)
	if err != nil {
		return provider.LaunchHandle{}, dafterrors.WrapAndTrace(err)
	}
	defer cleanup()

	p.logger.Debug("launching", zap.String("cluster", spec.Name), zap.Int("instances", cfg.RequestedInstances()), zap.String("config", path))
	if err := p.runner.Up(ctx, path); err != nil {
		return provider.LaunchHandle{}, classifyLaunch(spec.Name, err)
	}

	return provider.LaunchHandle{
		ClusterName: spec.Name,
		ConfigPath:  path,
		Head:        1,
		Workers:     cfg.RequestedInstances() - 1,
	}, nil
}

func classifyLaunch(cluster string, err error) error {
	var runErr *autoscaler.RunError
	if dafterrors.As(err, &runErr) {
		return &provider.ProviderError{
			Kind:     kindFromOutput(runErr.Output),
			Op:       "launch",
			Provider: clusterspec.ProviderAWS,
			Cluster:  cluster,
			Err:      err,
		}
	}
	return classify("launch", cluster, err)
}

func (p *Provider) Terminate(ctx context.Context, clusterName string) (provider.TerminateResult, error) {
	instances, err := p.Describe(ctx, mo.Some(clusterName))
	if err != nil {
		return provider.TerminateResult{}, err
	}
	ids := lo.FilterMap(instances, func(i provider.Instance, _ int) (string, bool) {
		return i.InstanceID, i.State != provider.ShuttingDown && i.State != provider.Terminated
	})
	if len(ids) == 0 {
		return provider.TerminateResult{Requested: []string{}}, nil
	}

	_, err = p.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	if err != nil {
		return provider.TerminateResult{}, classify("terminate", clusterName, err)
	}
	p.logger.Debug("terminate requested", zap.String("cluster", clusterName), zap.Strings("instances", ids))
	return provider.TerminateResult{Requested: ids}, nil
}

func (p *Provider) Describe(ctx context.Context, clusterName mo.Option[string]) ([]provider.Instance, error) {
	filters := []ec2types.Filter{
		{Name: aws.String("tag-key"), Values: []string{TagNodeType}},
	}
	if name, ok := clusterName.Get(); ok {
		filters = append(filters, ec2types.Filter{Name: aws.String("tag:" + TagClusterName), Values: []string{name}})
	}

	var instances []provider.Instance
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("describe", clusterName.OrEmpty(), err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, p.toInstance(inst))
			}
		}
	}
	return instances, nil
}

func (p *Provider) toInstance(inst ec2types.Instance) provider.Instance {
	tags := lo.SliceToMap(inst.Tags, func(t ec2types.Tag) (string, string) {
		return aws.ToString(t.Key), aws.ToString(t.Value)
	})
	role := provider.Worker
	if tags[TagNodeType] == headNodeType {
		role = provider.Head
	}
	state := provider.Pending
	if inst.State != nil {
		state = mapState(inst.State.Name)
	}
	ip := aws.ToString(inst.PublicIpAddress)
	return provider.Instance{
		ClusterName: tags[TagClusterName],
		Provider:    clusterspec.ProviderAWS,
		Region:      p.region,
		Role:        role,
		InstanceID:  aws.ToString(inst.InstanceId),
		PublicIP:    mo.TupleToOption(ip, ip != ""),
		State:       state,
		KeyName:     aws.ToString(inst.KeyName),
	}
}

func mapState(name ec2types.InstanceStateName) provider.LifecycleState {
	switch name {
	case ec2types.InstanceStateNamePending:
		return provider.Pending
	case ec2types.InstanceStateNameRunning:
		return provider.Running
	case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameStopping:
		return provider.ShuttingDown
	case ec2types.InstanceStateNameTerminated, ec2types.InstanceStateNameStopped:
		return provider.Terminated
	default:
		return provider.Pending
	}
}
