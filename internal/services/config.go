package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trobanga/pacsbatch/internal/lib"
	"github.com/trobanga/pacsbatch/internal/models"
)

// LoadOption customizes a config load, e.g. by binding CLI flags
type LoadOption func(v *viper.Viper) error

// WithFlags binds flags to config keys. bindings maps config key -> flag name.
// Flags the user did not set leave lower-priority sources in charge.
func WithFlags(flags *pflag.FlagSet, bindings map[string]string) LoadOption {
	return func(v *viper.Viper) error {
		for key, name := range bindings {
			flag := flags.Lookup(name)
			if flag == nil {
				return fmt.Errorf("unknown flag %q bound to %s", name, key)
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return err
			}
		}
		return nil
	}
}

// LoadConfig loads configuration from file, environment and flags.
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables (PACSBATCH_SECTION_KEY)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string, opts ...LoadOption) (*models.Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pacsbatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pacsbatch")
		v.AddConfigPath("/etc/pacsbatch")
	}

	v.SetEnvPrefix("PACSBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, models.DefaultConfig())

	// Config file is optional when searching standard locations
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, lib.WrapError(lib.CategoryConfiguration, "failed to read config file", err,
				"Check the YAML syntax of the configuration file",
				"Pass a different file with --config")
		}
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, lib.WrapError(lib.CategoryConfiguration, "failed to bind flags", err)
		}
	}

	var config models.Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&config, decodeHook); err != nil {
		return nil, lib.WrapError(lib.CategoryConfiguration, "failed to decode configuration", err)
	}

	if err := config.Validate(); err != nil {
		return nil, lib.WrapError(lib.CategoryConfiguration, "invalid configuration", err,
			"Fix the reported field in the configuration file or override it with a flag")
	}

	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper, d models.Config) {
	v.SetDefault("peer.host", d.Peer.Host)
	v.SetDefault("peer.port", d.Peer.Port)
	v.SetDefault("peer.ae_title", d.Peer.AETitle)

	v.SetDefault("local.ae_title", d.Local.AETitle)
	v.SetDefault("local.port", d.Local.Port)

	v.SetDefault("network.provider", d.Network.Provider)
	v.SetDefault("network.max_pdu", d.Network.MaxPDU)
	v.SetDefault("network.timeout", d.Network.Timeout)

	v.SetDefault("request.kind", d.Request.Kind)
	v.SetDefault("request.model", d.Request.Model)
	v.SetDefault("request.elements", d.Request.Elements)
	v.SetDefault("request.variation_file", d.Request.VariationFile)
	v.SetDefault("request.throttle_delay", d.Request.ThrottleDelay)
	v.SetDefault("request.workers", d.Request.Workers)
	v.SetDefault("request.max_rate", d.Request.MaxRate)

	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.results_file", d.Output.ResultsFile)
	v.SetDefault("output.directory_structure", d.Output.DirectoryStructure)
	v.SetDefault("output.filename", d.Output.Filename)
	v.SetDefault("output.decompress", d.Output.Decompress)

	v.SetDefault("ingest.workers", d.Ingest.Workers)

	v.SetDefault("session.max_attempts", d.Session.MaxAttempts)
	v.SetDefault("session.retry_delay", d.Session.RetryDelay)
	v.SetDefault("session.max_retry_delay", d.Session.MaxRetryDelay)

	v.SetDefault("schedule.enabled", d.Schedule.Enabled)
	v.SetDefault("schedule.start_time", d.Schedule.StartTime)
	v.SetDefault("schedule.end_time", d.Schedule.EndTime)
	v.SetDefault("schedule.timezone", d.Schedule.Timezone)

	v.SetDefault("anonymization.enabled", d.Anonymization.Enabled)
	v.SetDefault("anonymization.java", d.Anonymization.Java)
	v.SetDefault("anonymization.tool_dir", d.Anonymization.ToolDir)
	v.SetDefault("anonymization.jar", d.Anonymization.Jar)
	v.SetDefault("anonymization.script", d.Anonymization.Script)
	v.SetDefault("anonymization.lookup_table", d.Anonymization.LookupTable)
	v.SetDefault("anonymization.timeout", d.Anonymization.Timeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}
