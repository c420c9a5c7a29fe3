package models

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/trobanga/pacsbatch/internal/dimse"
)

// Config is the top-level configuration for a pacsbatch run
type Config struct {
	Peer          PeerConfig          `mapstructure:"peer" yaml:"peer"`
	Local         LocalConfig         `mapstructure:"local" yaml:"local"`
	Network       NetworkConfig       `mapstructure:"network" yaml:"network"`
	Request       RequestConfig       `mapstructure:"request" yaml:"request"`
	Output        OutputConfig        `mapstructure:"output" yaml:"output"`
	Ingest        IngestConfig        `mapstructure:"ingest" yaml:"ingest"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
	Schedule      ScheduleConfig      `mapstructure:"schedule" yaml:"schedule"`
	Anonymization AnonymizationConfig `mapstructure:"anonymization" yaml:"anonymization"`
	Log           LoggingConfig       `mapstructure:"log" yaml:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// PeerConfig addresses the remote application entity
type PeerConfig struct {
	Host    string `mapstructure:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port    int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	AETitle string `mapstructure:"ae_title" yaml:"ae_title" validate:"omitempty,aetitle"`
}

// LocalConfig is our own application entity
type LocalConfig struct {
	AETitle string `mapstructure:"ae_title" yaml:"ae_title" validate:"required,aetitle"`
	// Port of the storage listener used by retrieve and serve
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// NetworkConfig selects and tunes the network service provider
type NetworkConfig struct {
	// Provider is only needed by commands that talk to the network, see RequireProvider
	Provider string        `mapstructure:"provider" yaml:"provider"`
	MaxPDU   int           `mapstructure:"max_pdu" yaml:"max_pdu" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// RequestConfig is the request template plus batch concurrency settings
type RequestConfig struct {
	Kind          string        `mapstructure:"kind" yaml:"kind" validate:"required,kind"`
	Model         string        `mapstructure:"model" yaml:"model" validate:"omitempty,model"`
	Elements      []string      `mapstructure:"elements" yaml:"elements" validate:"dive,required"`
	VariationFile string        `mapstructure:"variation_file" yaml:"variation_file"`
	ThrottleDelay time.Duration `mapstructure:"throttle_delay" yaml:"throttle_delay" validate:"gte=0"`
	Workers       int           `mapstructure:"workers" yaml:"workers" validate:"min=1"`
	// MaxRate caps requests per second across all workers, 0 disables the cap
	MaxRate float64 `mapstructure:"max_rate" yaml:"max_rate" validate:"gte=0"`
}

// OutputConfig is the output directory and the storage layout of received files
type OutputConfig struct {
	Directory          string `mapstructure:"directory" yaml:"directory" validate:"required"`
	ResultsFile        string `mapstructure:"results_file" yaml:"results_file" validate:"required"`
	DirectoryStructure string `mapstructure:"directory_structure" yaml:"directory_structure"`
	Filename           string `mapstructure:"filename" yaml:"filename" validate:"required"`
	Decompress         bool   `mapstructure:"decompress" yaml:"decompress"`
}

// IngestConfig sizes the placement worker pool
type IngestConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers" validate:"gte=0"`
}

// SessionConfig bounds session re-establishment
type SessionConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay" validate:"gte=0"`
}

// ScheduleConfig restricts dispatch to a daily wall-clock window
type ScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	StartTime string `mapstructure:"start_time" yaml:"start_time" validate:"omitempty,clock"`
	EndTime   string `mapstructure:"end_time" yaml:"end_time" validate:"omitempty,clock"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone" validate:"omitempty,timezone"`
}

// AnonymizationConfig locates the external de-identification tool
type AnonymizationConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Java        string `mapstructure:"java" yaml:"java"`
	ToolDir     string `mapstructure:"tool_dir" yaml:"tool_dir"`
	Jar         string `mapstructure:"jar" yaml:"jar"`
	Script      string `mapstructure:"script" yaml:"script"`
	LookupTable string `mapstructure:"lookup_table" yaml:"lookup_table"`
	// Timeout bounds one tool run, 0 disables the bound
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// LoggingConfig selects log level and encoding
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

// MetricsConfig enables the Prometheus listener when Listen is set
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Peer: PeerConfig{
			Host: "localhost",
			Port: 104,
		},
		Local: LocalConfig{
			AETitle: "PACSBATCH",
			Port:    11112,
		},
		Network: NetworkConfig{
			MaxPDU:  16384,
			Timeout: 30 * time.Second,
		},
		Request: RequestConfig{
			Kind:    string(KindQuery),
			Model:   string(dimse.ModelStudyRoot),
			Workers: 1,
		},
		Output: OutputConfig{
			Directory:          "./output",
			ResultsFile:        "results.csv",
			DirectoryStructure: "PatientID/StudyInstanceUID/SeriesInstanceUID",
			Filename:           "SOPInstanceUID",
		},
		Session: SessionConfig{
			MaxAttempts:   100,
			RetryDelay:    time.Second,
			MaxRetryDelay: time.Second,
		},
		Schedule: ScheduleConfig{
			StartTime: "20:00",
			EndTime:   "06:00",
		},
		Anonymization: AnonymizationConfig{
			Java:    "java",
			Jar:     "DAT.jar",
			Script:  "anonymizer.script",
			Timeout: 5 * time.Minute,
		},
		Log: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Template returns the request template described by the request section
func (c *RequestConfig) Template() (Request, error) {
	kind, err := ParseKind(c.Kind)
	if err != nil {
		return Request{}, err
	}

	var model dimse.Model
	if c.Model != "" {
		if model, err = dimse.ParseModel(c.Model); err != nil {
			return Request{}, err
		}
	} else if kind != KindVerify {
		return Request{}, fmt.Errorf("model is required for %s requests", kind)
	}

	return Request{
		Elements:      append([]string(nil), c.Elements...),
		Kind:          kind,
		Model:         model,
		ThrottleDelay: c.ThrottleDelay,
		Workers:       c.Workers,
	}, nil
}

// PeerAddress builds the provider-level peer address
func (c *Config) PeerAddress() dimse.Peer {
	return dimse.Peer{
		Host:      c.Peer.Host,
		Port:      c.Peer.Port,
		AETitle:   c.Peer.AETitle,
		CallingAE: c.Local.AETitle,
	}
}

// ProviderConfig returns the association parameters for the provider
func (c *Config) ProviderConfig() dimse.ProviderConfig {
	return dimse.ProviderConfig{MaxPDU: c.Network.MaxPDU, Timeout: c.Network.Timeout}
}

// IngestWorkers returns the placement pool size, defaulting to the request workers
func (c *Config) IngestWorkers() int {
	if c.Ingest.Workers > 0 {
		return c.Ingest.Workers
	}
	if c.Request.Workers > 0 {
		return c.Request.Workers
	}
	return 1
}

// ResultsPath returns the result table path under the output directory
func (c *OutputConfig) ResultsPath() string {
	if filepath.IsAbs(c.ResultsFile) {
		return c.ResultsFile
	}
	return filepath.Join(c.Directory, c.ResultsFile)
}

// StagingDir returns the temporary area for inbound payloads
func (c *OutputConfig) StagingDir() string {
	return filepath.Join(c.Directory, "tmp")
}

// JarPath returns the de-identification jar location
func (c *AnonymizationConfig) JarPath() string {
	return c.resolve(c.Jar)
}

// ScriptPath returns the de-identification script location
func (c *AnonymizationConfig) ScriptPath() string {
	return c.resolve(c.Script)
}

// LookupTablePath returns the lookup table location, or "" when none is configured
func (c *AnonymizationConfig) LookupTablePath() string {
	if c.LookupTable == "" {
		return ""
	}
	return c.resolve(c.LookupTable)
}

func (c *AnonymizationConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ToolDir, name)
}
