package store

import (
	"github.com/tidwall/gjson"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/version"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

// GetLatestRelease fetches the newest published launcher release.
func (n NoAuthHTTPStore) GetLatestRelease() (*version.Release, error) {
	res, err := n.noAuthHTTPClient.restyClient.R().Get(n.config.GetReleaseURL())
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err, dafterrors.NetworkErrorMessage)
	}
	if res.IsError() {
		return nil, NewHTTPResponseError(res)
	}

	body := res.Body()
	if !gjson.ValidBytes(body) {
		return nil, dafterrors.New("release response is not JSON")
	}
	parsed := gjson.ParseBytes(body)
	release := &version.Release{
		TagName:      parsed.Get("tag_name").String(),
		Name:         parsed.Get("name").String(),
		Body:         parsed.Get("body").String(),
		IsDraft:      parsed.Get("draft").Bool(),
		IsPrerelease: parsed.Get("prerelease").Bool(),
	}
	if release.TagName == "" {
		return nil, dafterrors.New("release response has no tag_name")
	}
	return release, nil
}
