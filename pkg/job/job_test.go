package job

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
)

func workingDir(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/work/data/nested", 0o755))
	require.NoError(t, fs.MkdirAll("/work/.git", 0o755))
	require.NoError(t, fs.MkdirAll("/work/.venv", 0o755))
	require.NoError(t, fs.MkdirAll("/work/pkg/__pycache__", 0o755))
	files := map[string]string{
		"/work/main.py":               "import daft\nprint('hi')\n",
		"/work/data/input.csv":        "a,b\n1,2\n",
		"/work/data/nested/x.py":      "x = 1\n",
		"/work/.git/HEAD":             "ref: refs/heads/main\n",
		"/work/.venv/lib.py":          "venv = True\n",
		"/work/pkg/__pycache__/m.pyc": "\x00\x01pyc",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	require.NoError(t, fs.Chmod("/work/main.py", 0o755))
	return fs
}

func snapshot(t *testing.T, fs afero.Fs, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(fs, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = info.Mode().Perm().String() + " " + string(data)
		return nil
	}))
	return out
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := workingDir(t)
	var buf bytes.Buffer
	require.NoError(t, Pack(src, "/work", &buf))

	dst := afero.NewMemMapFs()
	require.NoError(t, Unpack(dst, &buf, "/jobs/1"))

	want := snapshot(t, src, "/work")
	require.Contains(t, want, "pkg/__pycache__/m.pyc")
	got := snapshot(t, dst, "/jobs/1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unpacked tree mismatch (-want +got):\n%s", diff)
	}
}

func TestPackExcludesOnlyWhatIsAsked(t *testing.T) {
	src := workingDir(t)
	var buf bytes.Buffer
	require.NoError(t, Pack(src, "/work", &buf, "__pycache__", "*.csv"))

	dst := afero.NewMemMapFs()
	require.NoError(t, Unpack(dst, &buf, "/out"))

	got := snapshot(t, dst, "/out")
	assert.Contains(t, got, "main.py")
	assert.Contains(t, got, ".venv/lib.py")
	assert.Contains(t, got, ".git/HEAD")
	assert.NotContains(t, got, "pkg/__pycache__/m.pyc")
	assert.NotContains(t, got, "data/input.csv")
	assert.Contains(t, got, "data/nested/x.py")
}

func TestPackRejectsBadExcludePattern(t *testing.T) {
	err := Pack(workingDir(t), "/work", io.Discard, "[")
	var validation dafterrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestPackKeepsSymlinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "work")
	fs := afero.NewOsFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(src, ".venv", "lib"), 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, ".venv", "lib", "site.py"), []byte("x\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(src, "main.py"), []byte("print(1)\n"), 0o644))
	require.NoError(t, os.Symlink("lib", filepath.Join(src, ".venv", "lib64")))
	require.NoError(t, os.Symlink("main.py", filepath.Join(src, "entry.py")))

	var buf bytes.Buffer
	require.NoError(t, Pack(fs, src, &buf))

	dst := filepath.Join(root, "out")
	require.NoError(t, Unpack(fs, &buf, dst))

	link, err := os.Readlink(filepath.Join(dst, ".venv", "lib64"))
	require.NoError(t, err)
	assert.Equal(t, "lib", link)
	data, err := os.ReadFile(filepath.Join(dst, "entry.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", string(data))
	data, err = os.ReadFile(filepath.Join(dst, ".venv", "lib64", "site.py"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}

func TestUnpackRejectsEscapingSymlink(t *testing.T) {
	for _, link := range []string{"../../etc", "/etc"} {
		t.Run(link, func(t *testing.T) {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			tw := tar.NewWriter(gz)
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a/etc", Linkname: link, Typeflag: tar.TypeSymlink}))
			require.NoError(t, tw.Close())
			require.NoError(t, gz.Close())

			dst := filepath.Join(t.TempDir(), "out")
			err := Unpack(afero.NewOsFs(), &buf, dst)
			require.Error(t, err)
			_, statErr := os.Lstat(filepath.Join(dst, "a", "etc"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestPackRejectsFile(t *testing.T) {
	fs := workingDir(t)
	err := Pack(fs, "/work/main.py", io.Discard)
	assert.Error(t, err)
}

func TestUnpackRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../evil.sh", "a/../../evil.sh", "/etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			tw := tar.NewWriter(gz)
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}))
			_, err := tw.Write([]byte("hi"))
			require.NoError(t, err)
			require.NoError(t, tw.Close())
			require.NoError(t, gz.Close())

			fs := afero.NewMemMapFs()
			err = Unpack(fs, &buf, "/jobs/1")
			require.Error(t, err)
			exists, _ := afero.Exists(fs, "/jobs/evil.sh")
			assert.False(t, exists)
		})
	}
}

type fakeDescriber struct {
	instances []provider.Instance
	err       error
}

func (f fakeDescriber) Describe(context.Context, mo.Option[string]) ([]provider.Instance, error) {
	return f.instances, f.err
}

// fakeSession executes the pipeline's commands against an in-memory remote filesystem.
type fakeSession struct {
	remote   afero.Fs
	uploads  map[string][]byte
	commands []string
	exitCode int
	closed   bool
}

func (f *fakeSession) Upload(_ context.Context, r io.Reader, path string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploads[path] = data
	return nil
}

func (f *fakeSession) Run(_ context.Context, command string, stdout, _ io.Writer) (int, error) {
	f.commands = append(f.commands, command)
	if strings.Contains(command, "tar -xzf") {
		for path, data := range f.uploads {
			if err := Unpack(f.remote, bytes.NewReader(data), "/home/ec2-user/daft-jobs/"+strings.TrimSuffix(strings.TrimPrefix(path, "/tmp/daft-"), ".tar.gz")); err != nil {
				return 2, nil
			}
		}
		return 0, nil
	}
	_, _ = io.WriteString(stdout, "job output\n")
	return f.exitCode, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeConnector struct {
	session *fakeSession
	targets []remote.Target
}

func (f *fakeConnector) Connect(_ context.Context, target remote.Target) (RemoteSession, error) {
	f.targets = append(f.targets, target)
	return f.session, nil
}

func runningCluster() []provider.Instance {
	return []provider.Instance{
		{ClusterName: "analytics", Provider: clusterspec.ProviderAWS, Role: provider.Worker, InstanceID: "i-w", State: provider.Running, PublicIP: mo.None[string]()},
		{ClusterName: "analytics", Provider: clusterspec.ProviderAWS, Role: provider.Head, InstanceID: "i-h", State: provider.Running, PublicIP: mo.Some("203.0.113.7")},
	}
}

func newSubmitter(d Describer, c Connector, stdout io.Writer) Submitter {
	return Submitter{
		Provider:  d,
		Connector: c,
		Stdout:    stdout,
		NewID:     func() string { return "job-1" },
	}
}

func TestSubmitShipsAndRuns(t *testing.T) {
	src := workingDir(t)
	session := &fakeSession{remote: afero.NewMemMapFs(), uploads: map[string][]byte{}}
	conn := &fakeConnector{session: session}
	var stdout bytes.Buffer

	result, err := newSubmitter(fakeDescriber{instances: runningCluster()}, conn, &stdout).Submit(context.Background(), Spec{
		Command: []string{"python", "main.py", "--rows", "10 000"},
		Fs:      src,
		Dir:     "/work",
		Cluster: "analytics",
		User:    "ec2-user",
		KeyPath: "/keys/k.pem",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "203.0.113.7", result.Host)
	assert.Equal(t, []remote.Target{{Host: "203.0.113.7", User: "ec2-user", KeyPath: "/keys/k.pem"}}, conn.targets)
	assert.Contains(t, session.uploads, "/tmp/daft-job-1.tar.gz")
	assert.True(t, session.closed)
	assert.Equal(t, "job output\n", stdout.String())

	require.Len(t, session.commands, 2)
	assert.Contains(t, session.commands[1], "bash -lc")
	assert.Contains(t, session.commands[1], "daft-jobs/job-1")
	assert.Contains(t, session.commands[1], "10 000")

	want := snapshot(t, src, "/work")
	delete(want, ".git/HEAD")
	assert.Equal(t, want, snapshot(t, session.remote, "/home/ec2-user/daft-jobs/job-1"))
}

func TestSubmitNoHeadBeforeAnyTransfer(t *testing.T) {
	cases := map[string][]provider.Instance{
		"no instances":    nil,
		"head pending":    {{ClusterName: "analytics", Role: provider.Head, State: provider.Pending, PublicIP: mo.Some("1.1.1.1")}},
		"head without ip": {{ClusterName: "analytics", Role: provider.Head, State: provider.Running, PublicIP: mo.None[string]()}},
	}
	for name, instances := range cases {
		t.Run(name, func(t *testing.T) {
			conn := &fakeConnector{session: &fakeSession{uploads: map[string][]byte{}}}
			_, err := newSubmitter(fakeDescriber{instances: instances}, conn, nil).Submit(context.Background(), Spec{
				Command: []string{"python", "main.py"},
				Fs:      workingDir(t),
				Dir:     "/work",
				Cluster: "analytics",
			})
			assert.True(t, IsKind(err, NoHead))
			assert.Empty(t, conn.targets)
		})
	}
}

func TestSubmitPropagatesExitCode(t *testing.T) {
	session := &fakeSession{remote: afero.NewMemMapFs(), uploads: map[string][]byte{}, exitCode: 7}
	result, err := newSubmitter(fakeDescriber{instances: runningCluster()}, &fakeConnector{session: session}, nil).Submit(context.Background(), Spec{
		Command: []string{"python", "main.py"},
		Fs:      workingDir(t),
		Dir:     "/work",
		Cluster: "analytics",
	})
	require.Error(t, err)
	assert.True(t, IsKind(err, RemoteNonZeroExit))
	assert.Equal(t, 7, result.ExitCode)

	var coder interface{ ExitCode() int }
	require.True(t, dafterrors.As(err, &coder))
	assert.Equal(t, 7, coder.ExitCode())
}

func TestSubmitArchiveFailure(t *testing.T) {
	conn := &fakeConnector{session: &fakeSession{uploads: map[string][]byte{}}}
	_, err := newSubmitter(fakeDescriber{instances: runningCluster()}, conn, nil).Submit(context.Background(), Spec{
		Command: []string{"python", "main.py"},
		Fs:      afero.NewMemMapFs(),
		Dir:     "/missing",
		Cluster: "analytics",
	})
	assert.True(t, IsKind(err, ArchiveFailure))
	assert.Empty(t, conn.targets)
}

func TestSQLJob(t *testing.T) {
	spec, err := SQLJob("SELECT 1", "analytics", "ec2-user", "/k.pem")
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "sql.py", "SELECT 1"}, spec.Command)

	data, err := afero.ReadFile(spec.Fs, filepath.Join(spec.Dir, "sql.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "daft.sql(sql)")

	_, err = SQLJob("", "analytics", "ec2-user", "/k.pem")
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	assert.Equal(t,
		"rm -rf $HOME/daft-jobs/j && mkdir -p $HOME/daft-jobs/j && tar -xzf /tmp/daft-j.tar.gz -C $HOME/daft-jobs/j && rm -f /tmp/daft-j.tar.gz",
		UnpackCommand("/tmp/daft-j.tar.gz", "$HOME/daft-jobs/j"))

	run := RunCommand("$HOME/daft-jobs/j", []string{"python", "it's.py"})
	assert.True(t, strings.HasPrefix(run, "bash -lc '"))
	assert.Contains(t, run, "source $HOME/.venv/bin/activate")
}
