package config

import (
	"os"
)

type EnvVarName string // should be caps with underscore

const (
	launcherHome    EnvVarName = "DAFT_LAUNCHER_HOME"
	sentryDSN       EnvVarName = "DAFT_SENTRY_DSN"
	releaseURL      EnvVarName = "DAFT_RELEASE_URL"
	rayBinary       EnvVarName = "DAFT_RAY_BINARY"
	awsRegion       EnvVarName = "AWS_REGION"
	awsProfile      EnvVarName = "AWS_PROFILE"
	defaultDashPort EnvVarName = "DAFT_DASHBOARD_PORT"
)

type ConstantsConfig struct{}

func NewConstants() *ConstantsConfig {
	return &ConstantsConfig{}
}

// GetLauncherHome returns an override for the ~/.daft directory, empty when unset.
func (c ConstantsConfig) GetLauncherHome() string {
	return getEnvOrDefault(launcherHome, "")
}

func (c ConstantsConfig) GetSentryDSN() string {
	return getEnvOrDefault(sentryDSN, "")
}

func (c ConstantsConfig) GetReleaseURL() string {
	return getEnvOrDefault(releaseURL, "https://api.github.com/repos/Eventual-Inc/daft-launcher/releases/latest")
}

func (c ConstantsConfig) GetRayBinary() string {
	return getEnvOrDefault(rayBinary, "ray")
}

func (c ConstantsConfig) GetDefaultRegion() string {
	return getEnvOrDefault(awsRegion, "us-west-2")
}

func (c ConstantsConfig) GetAWSProfile() string {
	return getEnvOrDefault(awsProfile, "")
}

func (c ConstantsConfig) GetDashboardPort() string {
	return getEnvOrDefault(defaultDashPort, "8265")
}

func getEnvOrDefault(envVarName EnvVarName, defaultVal string) string {
	val := os.Getenv(string(envVarName))
	if val == "" {
		return defaultVal
	}
	return val
}

var GlobalConfig = NewConstants()
