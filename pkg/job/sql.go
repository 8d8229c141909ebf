package job

import (
	"github.com/spf13/afero"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

const sqlScriptName = "sql.py"

const sqlScript = `import argparse
import daft


def main(sql: str):
    daft.context.set_runner_ray()
    df = daft.sql(sql).collect()
    df.show()


if __name__ == "__main__":
    parser = argparse.ArgumentParser()
    parser.add_argument("sql")
    args = parser.parse_args()
    main(args.sql)
`

// SQLJob returns a submission that runs query with daft on the cluster. Its working
// directory lives in memory and holds only the runner script.
func SQLJob(query string, cluster string, user string, keyPath string) (Spec, error) {
	if query == "" {
		return Spec{}, dafterrors.NewValidationError("an SQL query is required")
	}
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/sql", 0o755); err != nil {
		return Spec{}, dafterrors.WrapAndTrace(err)
	}
	if err := afero.WriteFile(fs, "/sql/"+sqlScriptName, []byte(sqlScript), 0o644); err != nil {
		return Spec{}, dafterrors.WrapAndTrace(err)
	}
	return Spec{
		Name:    "sql",
		Command: []string{"python", sqlScriptName, query},
		Fs:      fs,
		Dir:     "/sql",
		Cluster: cluster,
		User:    user,
		KeyPath: keyPath,
	}, nil
}
