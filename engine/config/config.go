// Package config defines the per-bridge configuration schema (spec §6) and
// loads it from disk. The on-disk format is JSON: JSON5's comments/trailing
// commas are a parser concern the spec leaves unspecified, so the schema
// below is authoritative and encoding/json is the loader — a full JSON5
// parser is explicitly out of scope.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/99souls/zensight/engine/zerr"
)

// ZenohMode selects the fabric connection role for a bridge.
type ZenohMode string

const (
	ModeClient ZenohMode = "client"
	ModePeer   ZenohMode = "peer"
	ModeRouter ZenohMode = "router"
)

// FabricConfig is the zenoh-flavored transport configuration shared by every
// bridge and exporter.
type FabricConfig struct {
	Mode    ZenohMode `json:"mode"`
	Connect []string  `json:"connect,omitempty"`
	Listen  []string  `json:"listen,omitempty"`
}

// LoggingConfig configures the slog handler level.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SNMPDeviceSecurity carries SNMPv3 USM credentials.
type SNMPDeviceSecurity struct {
	Username  string `json:"username"`
	AuthProto string `json:"auth_proto,omitempty"`
	AuthPass  string `json:"auth_pass,omitempty"`
	PrivProto string `json:"priv_proto,omitempty"`
	PrivPass  string `json:"priv_pass,omitempty"`
}

// SNMPDevice is a single polled target.
type SNMPDevice struct {
	Name             string              `json:"name"`
	Address          string              `json:"address"`
	Version          string              `json:"version"`
	Community        string              `json:"community,omitempty"`
	Security         *SNMPDeviceSecurity `json:"security,omitempty"`
	PollIntervalSecs int                 `json:"poll_interval_secs"`
	OIDs             []string            `json:"oids,omitempty"`
	Walks            []string            `json:"walks,omitempty"`
	OIDGroup         string              `json:"oid_group,omitempty"`
}

// SNMPTrapListener configures the optional trap receiver.
type SNMPTrapListener struct {
	Enabled bool   `json:"enabled"`
	Bind    string `json:"bind,omitempty"`
}

// SNMPConfig is the `snmp.*` configuration block.
type SNMPConfig struct {
	Devices      []SNMPDevice        `json:"devices"`
	OIDGroups    map[string][]string `json:"oid_groups,omitempty"`
	OIDNames     map[string]string   `json:"oid_names,omitempty"`
	MIBDirs      []string            `json:"mib_dirs,omitempty"`
	TrapListener SNMPTrapListener    `json:"trap_listener"`
}

// NetflowListener binds a single UDP collector endpoint.
type NetflowListener struct {
	Bind string `json:"bind"`
}

// NetflowConfig is the `netflow.*` configuration block.
type NetflowConfig struct {
	Listeners          []NetflowListener `json:"listeners"`
	TemplateTimeoutSecs int              `json:"template_timeout_secs"`
}

// AggregationConfig bounds the Prometheus aggregator's memory and staleness.
type AggregationConfig struct {
	StaleTimeoutSecs   int `json:"stale_timeout_secs"`
	MaxSeries          int `json:"max_series"`
	CleanupIntervalSecs int `json:"cleanup_interval_secs"`
}

// FiltersConfig narrows what the Prometheus exporter accepts.
type FiltersConfig struct {
	IncludeProtocols []string `json:"include_protocols,omitempty"`
	ExcludeMetrics   []string `json:"exclude_metrics,omitempty"`
}

// PrometheusConfig is the `prometheus.*` configuration block.
type PrometheusConfig struct {
	Listen      string            `json:"listen"`
	Path        string            `json:"path"`
	Prefix      string            `json:"prefix,omitempty"`
	Aggregation AggregationConfig `json:"aggregation"`
	Filters     FiltersConfig     `json:"filters,omitempty"`
}

// OTLPProtocol selects the exporter transport.
type OTLPProtocol string

const (
	OTLPGRPC OTLPProtocol = "grpc"
	OTLPHTTP OTLPProtocol = "http"
)

// OTLPConfig is the `opentelemetry.*` configuration block.
type OTLPConfig struct {
	Endpoint          string            `json:"endpoint"`
	Protocol          OTLPProtocol      `json:"protocol"`
	ExportIntervalSecs int              `json:"export_interval_secs"`
	BatchSize         int               `json:"batch_size,omitempty"`
	TimeoutSecs       int               `json:"timeout_secs"`
	ExportMetrics     bool              `json:"export_metrics"`
	ExportLogs        bool              `json:"export_logs"`
	ExportText        bool              `json:"export_text,omitempty"`
	ServiceName       string            `json:"service_name"`
	ServiceVersion    string            `json:"service_version"`
	Headers           map[string]string `json:"headers,omitempty"`
	Resource          map[string]string `json:"resource,omitempty"`
}

// LivenessConfig tunes the device-status state machine every bridge runner
// drives (spec §4.3). DegradedLatencyMs is adapter-configured per spec; it
// lives here since every adapter shares one bridge-wide policy.
type LivenessConfig struct {
	DegradedThreshold uint32 `json:"degraded_threshold"`
	OfflineThreshold  uint32 `json:"offline_threshold"`
	DegradedLatencyMs int64  `json:"degraded_latency_ms,omitempty"`
}

// Config is the top-level per-bridge configuration document. Every bridge
// and exporter binary loads the same struct and ignores the sections it
// doesn't use, so a single config file can (optionally) describe an
// entire deployment.
type Config struct {
	Zenoh         FabricConfig      `json:"zenoh"`
	Serialization string            `json:"serialization,omitempty"`
	Logging       LoggingConfig     `json:"logging"`
	Liveness      LivenessConfig    `json:"liveness"`
	SNMP          *SNMPConfig       `json:"snmp,omitempty"`
	Netflow       *NetflowConfig    `json:"netflow,omitempty"`
	Prometheus    *PrometheusConfig `json:"prometheus,omitempty"`
	OpenTelemetry *OTLPConfig       `json:"opentelemetry,omitempty"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.Configf("read config %s: %v", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, zerr.Configf("parse config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serialization == "" {
		c.Serialization = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Prometheus != nil {
		if c.Prometheus.Path == "" {
			c.Prometheus.Path = "/metrics"
		}
		if c.Prometheus.Aggregation.CleanupIntervalSecs == 0 {
			c.Prometheus.Aggregation.CleanupIntervalSecs = 30
		}
		if c.Prometheus.Aggregation.StaleTimeoutSecs == 0 {
			c.Prometheus.Aggregation.StaleTimeoutSecs = 300
		}
		if c.Prometheus.Aggregation.MaxSeries == 0 {
			c.Prometheus.Aggregation.MaxSeries = 100000
		}
	}
	if c.OpenTelemetry != nil {
		if c.OpenTelemetry.Protocol == "" {
			c.OpenTelemetry.Protocol = OTLPGRPC
		}
		if c.OpenTelemetry.ExportIntervalSecs == 0 {
			c.OpenTelemetry.ExportIntervalSecs = 10
		}
		if c.OpenTelemetry.TimeoutSecs == 0 {
			c.OpenTelemetry.TimeoutSecs = 10
		}
		if c.OpenTelemetry.BatchSize == 0 {
			c.OpenTelemetry.BatchSize = 1000
		}
	}
	if c.Netflow != nil && c.Netflow.TemplateTimeoutSecs == 0 {
		c.Netflow.TemplateTimeoutSecs = 1800
	}
	if c.Liveness.DegradedThreshold == 0 {
		c.Liveness.DegradedThreshold = 1
	}
	if c.Liveness.OfflineThreshold == 0 {
		c.Liveness.OfflineThreshold = 3
	}
}

// Validate checks the structural invariants the spec requires before a
// bridge spawns any task (spec §7: config errors surface before spawn).
func (c *Config) Validate() error {
	switch c.Zenoh.Mode {
	case ModeClient, ModePeer, ModeRouter:
	default:
		return zerr.Configf("zenoh.mode must be one of client|peer|router, got %q", c.Zenoh.Mode)
	}
	if c.Serialization != "" && c.Serialization != "json" && c.Serialization != "cbor" {
		return zerr.Configf("serialization must be json or cbor, got %q", c.Serialization)
	}
	if c.SNMP != nil {
		for i, d := range c.SNMP.Devices {
			if d.Name == "" || d.Address == "" {
				return zerr.Configf("snmp.devices[%d] requires name and address", i)
			}
			switch d.Version {
			case "v1", "v2c", "v3":
			default:
				return zerr.Configf("snmp.devices[%d] version must be v1|v2c|v3, got %q", i, d.Version)
			}
			if d.Version == "v3" && d.Security == nil {
				return zerr.Configf("snmp.devices[%d] requires security for v3", i)
			}
			if d.Version != "v3" && d.Community == "" {
				return zerr.Configf("snmp.devices[%d] requires community for %s", i, d.Version)
			}
		}
	}
	if c.Netflow != nil && len(c.Netflow.Listeners) == 0 {
		return zerr.Configf("netflow requires at least one listener")
	}
	if c.OpenTelemetry != nil {
		switch c.OpenTelemetry.Protocol {
		case OTLPGRPC, OTLPHTTP, "":
		default:
			return zerr.Configf("opentelemetry.protocol must be grpc|http, got %q", c.OpenTelemetry.Protocol)
		}
		if c.OpenTelemetry.Endpoint == "" {
			return zerr.Configf("opentelemetry.endpoint is required")
		}
	}
	return nil
}

// AlertSeverity mirrors the frontend's persisted alert rule severities.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "Critical"
	SeverityWarning  AlertSeverity = "Warning"
	SeverityInfo     AlertSeverity = "Info"
)

// ValidSeverity reports whether s is one of the recognized alert
// severities, used both by settings-file validation and by alert rule
// construction in engine/frontend.
func ValidSeverity(s AlertSeverity) error {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return nil
	default:
		return fmt.Errorf("config: invalid alert severity %q", s)
	}
}
