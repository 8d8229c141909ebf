package featureflag

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/version"
)

func IsDev() bool {
	if viper.IsSet("feature.dev") {
		return viper.GetBool("feature.dev")
	}
	return version.Version == "" || strings.HasPrefix(version.Version, "dev")
}

// Debug prints full error chains instead of the root cause.
func Debug() bool {
	return viper.GetBool("feature.debug")
}

// SkipVersionCheck disables the launcher version constraint in cluster configs.
func SkipVersionCheck() bool {
	return viper.GetBool("feature.skip_version_check")
}

// Interactive reports whether prompts are allowed; DAFT_FEATURE_NON_INTERACTIVE turns them off.
func Interactive() bool {
	return !viper.GetBool("feature.non_interactive")
}

func SetDebug(debug bool) {
	viper.Set("feature.debug", debug)
}

func LoadFeatureFlags(path string) error {
	viper.SetConfigName("config")
	viper.AddConfigPath("/etc/daft/")
	viper.AddConfigPath(path)
	viper.SetEnvPrefix("daft")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig() // do not need to fail if can't find config file

	return nil
}
