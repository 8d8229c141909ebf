// Package job packages a local working directory, ships it to a cluster's head node
// and runs a command there inside the cluster's python environment.
package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/autoscaler"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/reconciler"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
)

const remoteJobsDir = "$HOME/daft-jobs"

// Spec describes one submission.
type Spec struct {
	Name string
	// Command is the argv run in the unpacked working directory.
	Command []string
	Fs      afero.Fs
	Dir     string
	// Exclude holds base-name glob patterns left out of the archive. Nothing is excluded by default.
	Exclude []string
	Cluster string
	User    string
	KeyPath string
}

type Describer interface {
	Describe(ctx context.Context, clusterName mo.Option[string]) ([]provider.Instance, error)
}

type RemoteSession interface {
	Upload(ctx context.Context, r io.Reader, remotePath string) error
	Run(ctx context.Context, command string, stdout, stderr io.Writer) (int, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, target remote.Target) (RemoteSession, error)
}

// SSHConnector opens real sessions with remote.Connect.
type SSHConnector struct {
	Options remote.Options
}

func (c SSHConnector) Connect(ctx context.Context, target remote.Target) (RemoteSession, error) {
	s, err := remote.Connect(ctx, target, c.Options)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Submitter struct {
	Provider  Describer
	Connector Connector
	Stdout    io.Writer
	Stderr    io.Writer
	// Progress wraps the upload with a progress indicator for size bytes. Optional.
	Progress func(size int64) io.Writer
	Logger   *zap.Logger
	NewID    func() string
	// Sleep waits between Describe retries; nil waits in real time.
	Sleep retry.SleepFunc
}

type Result struct {
	JobID    string
	Host     string
	ExitCode int
}

// Submit runs the pipeline: resolve head, pack, connect, upload, unpack, run.
// The head is resolved before anything is packed or sent.
func (s Submitter) Submit(ctx context.Context, spec Spec) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	command := strings.Join(spec.Command, " ")
	fail := func(kind ErrorKind, host string, err error) error {
		return &SubmitError{Kind: kind, Cluster: spec.Cluster, Host: host, Command: command, Err: err}
	}

	head, err := s.resolveHead(ctx, spec.Cluster)
	if err != nil {
		return Result{}, err
	}
	host := head.PublicIP.OrEmpty()

	var archive bytes.Buffer
	if err := Pack(spec.Fs, spec.Dir, &archive, spec.Exclude...); err != nil {
		return Result{}, fail(ArchiveFailure, host, err)
	}

	jobID := newID()
	result := Result{JobID: jobID, Host: host, ExitCode: -1}
	logger.Debug("submitting", zap.String("name", spec.Name), zap.String("job", jobID), zap.String("host", host), zap.Int("archive_bytes", archive.Len()))

	sess, err := s.Connector.Connect(ctx, remote.Target{Host: host, User: spec.User, KeyPath: spec.KeyPath})
	if err != nil {
		return result, fail(TransferFailure, host, err)
	}
	defer sess.Close() //nolint:errcheck // defer

	tarball := fmt.Sprintf("/tmp/daft-%s.tar.gz", jobID)
	var body io.Reader = &archive
	if s.Progress != nil {
		body = io.TeeReader(&archive, s.Progress(int64(archive.Len())))
	}
	if err := sess.Upload(ctx, body, tarball); err != nil {
		return result, fail(TransferFailure, host, err)
	}

	jobDir := remoteJobsDir + "/" + jobID
	var unpackErr bytes.Buffer
	code, err := sess.Run(ctx, UnpackCommand(tarball, jobDir), io.Discard, &unpackErr)
	if err != nil {
		return result, fail(UnpackFailure, host, err)
	}
	if code != 0 {
		return result, fail(UnpackFailure, host, fmt.Errorf("tar exited with %d: %s", code, strings.TrimSpace(unpackErr.String())))
	}

	code, err = sess.Run(ctx, RunCommand(jobDir, spec.Command), s.out(), s.err())
	if err != nil {
		return result, dafterrors.WrapAndTrace(err, "running job", jobID)
	}
	result.ExitCode = code
	if code != 0 {
		return result, &SubmitError{Kind: RemoteNonZeroExit, Cluster: spec.Cluster, Host: host, Command: command, Status: code}
	}
	return result, nil
}

func (s Submitter) resolveHead(ctx context.Context, cluster string) (provider.Instance, error) {
	instances, err := provider.DescribeWithRetry(ctx, s.Provider, mo.Some(cluster), s.Sleep)
	if err != nil {
		return provider.Instance{}, err
	}
	view, ok := reconciler.Find(reconciler.Reconcile(instances), cluster)
	if !ok {
		return provider.Instance{}, &SubmitError{Kind: NoHead, Cluster: cluster}
	}
	head, ok := reconciler.RunningHead(view)
	if !ok {
		return provider.Instance{}, &SubmitError{Kind: NoHead, Cluster: cluster}
	}
	return head, nil
}

func (s Submitter) out() io.Writer {
	if s.Stdout == nil {
		return io.Discard
	}
	return s.Stdout
}

func (s Submitter) err() io.Writer {
	if s.Stderr == nil {
		return io.Discard
	}
	return s.Stderr
}

// UnpackCommand extracts tarball into a fresh jobDir and removes the tarball.
func UnpackCommand(tarball, jobDir string) string {
	return fmt.Sprintf("rm -rf %[2]s && mkdir -p %[2]s && tar -xzf %[1]s -C %[2]s && rm -f %[1]s",
		shellescape.Quote(tarball), jobDir)
}

// RunCommand runs argv in jobDir with the cluster virtualenv activated.
func RunCommand(jobDir string, argv []string) string {
	script := fmt.Sprintf("source %s && cd %s && %s", autoscaler.VenvActivate, jobDir, shellescape.QuoteCommand(argv))
	return "bash -lc " + shellescape.Quote(script)
}
