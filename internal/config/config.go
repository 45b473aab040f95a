// Package config loads and validates the gateway's INI configuration
// file. Configuration is threaded through component constructors as an
// explicit value; there is no package-level singleton (spec §9).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/ini"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
)

// ErrAmbiguousValue is returned when the INI file contains the corrupted
// aux_relay_mode fragment described in spec §9: a duplicated
// aux_relay_mode key intertwined with a commented-out
// mqtt_publish_where_status key in the same stanza. The intended value
// is not recoverable from the file and must not be guessed.
var ErrAmbiguousValue = errors.New("config: ambiguous aux_relay_mode in configuration file")

// AuxRelayMode is the operating mode of the auxiliary relay.
type AuxRelayMode string

// Auxiliary relay modes (spec §4.9).
const (
	AuxNever AuxRelayMode = "Never"
	AuxOnce  AuxRelayMode = "Once"
	AuxTimed AuxRelayMode = "Timed"
)

// ScriptMode controls when the Script Launcher fires a given script
// (spec §4.10).
type ScriptMode string

// Script launch modes.
const (
	ScriptNever ScriptMode = "Never"
	ScriptOnce  ScriptMode = "Once"
	ScriptMany  ScriptMode = "Many"
)

// ScriptConfig pairs an external executable with its launch mode.
type ScriptConfig struct {
	Path string     `koanf:"path"`
	Mode ScriptMode `koanf:"mode"`
}

// IntervalConfig is one user-specified `HH:MM-HH:MM` UTC window.
type IntervalConfig struct {
	Start string `koanf:"start"`
	End   string `koanf:"end"`
}

// SerialConfig describes the device's serial connection.
type SerialConfig struct {
	Port string `koanf:"port"`
	Baud int    `koanf:"baud"`

	// EMAChecksum selects the checksummed wire variant some field units
	// run, where every frame carries a trailing CRC-16/XMODEM checksum.
	EMAChecksum bool `koanf:"ema_checksum"`
}

// CommandConfig holds the Command Engine's concurrency and retry policy.
type CommandConfig struct {
	MaxInflight int           `koanf:"max_inflight"`
	Retries     int           `koanf:"retries"`
	Timeout     time.Duration `koanf:"timeout"`
}

// SchedulerConfig holds the periods for each Scheduler duty (spec §4.7).
type SchedulerConfig struct {
	UploadPeriod      time.Duration `koanf:"upload_period"`
	WatchdogKeepalive time.Duration `koanf:"watchdog_keepalive"`
	RTCCheckPeriod    time.Duration `koanf:"rtc_check_period"`
	RTCDelta          time.Duration `koanf:"rtc_delta"`
	TODEvalPeriod     time.Duration `koanf:"tod_eval_period"`
}

// UDPConfig describes the companion CLI's datagram socket (spec §6).
type UDPConfig struct {
	RxPort        int    `koanf:"rx_port"`
	TxPort        int    `koanf:"tx_port"`
	MulticastAddr string `koanf:"multicast_addr"`
}

// MQTTConfig describes the broker connection used by the publishers.
type MQTTConfig struct {
	BrokerURL string `koanf:"broker_url"`
	ClientID  string `koanf:"client_id"`
	Channel   string `koanf:"channel"`
}

// InstrumentConfig is the per-instrument block: which parameters to
// reconcile at startup, where/what to publish, and a free-form Args
// blob for firmware variants that need parameter overrides beyond the
// built-in defaults.
type InstrumentConfig struct {
	Parameters   map[string]string      `koanf:"parameters"`
	PublishWhere []string                `koanf:"publish_where"`
	PublishWhat  []string                `koanf:"publish_what"`
	Args         map[string]interface{} `koanf:"args"`
}

// ParameterSpec is a typed, per-instrument parameter override decoded
// from an [instrument.*] stanza's free-form Args block: firmware
// variants that use a different range or command template than this
// gateway's built-in defaults declare them here instead of needing a
// code change.
type ParameterSpec struct {
	Name        string  `mapstructure:"name"`
	Min         float64 `mapstructure:"min"`
	Max         float64 `mapstructure:"max"`
	SetTemplate string  `mapstructure:"set_template"`
	GetTemplate string  `mapstructure:"get_template"`
}

// DecodeParameterSpecs decodes the "parameter_overrides" list inside an
// instrument's Args block into typed ParameterSpec values. Args arrives
// as map[string]interface{} because koanf's ini parser has no static
// schema for it; mapstructure.Decode (the same library koanf's own
// Unmarshal uses internally) is applied here explicitly since this data
// sits one level below the struct koanf already decoded.
func DecodeParameterSpecs(args map[string]interface{}) ([]ParameterSpec, error) {
	raw, ok := args["parameter_overrides"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("config: parameter_overrides must be a list")
	}
	specs := make([]ParameterSpec, 0, len(list))
	for _, item := range list {
		var spec ParameterSpec
		if err := mapstructure.Decode(item, &spec); err != nil {
			return nil, fmt.Errorf("config: decoding parameter override: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Config is the fully parsed, validated gateway configuration.
type Config struct {
	Serial    SerialConfig    `koanf:"serial"`
	Command   CommandConfig   `koanf:"command"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	UDP       UDPConfig       `koanf:"udp"`
	MQTT      MQTTConfig      `koanf:"mqtt"`

	Sync bool `koanf:"sync"`

	VoltThreshold float64 `koanf:"volt_thres"`
	VoltDelta     float64 `koanf:"volt_delta"`
	VoltTime      time.Duration `koanf:"volt_time"`
	LowVoltMode   ScriptMode    `koanf:"low_volt_mode"`
	LowVoltScript string        `koanf:"low_volt_script"`

	RoofScript ScriptConfig `koanf:"roof_script"`

	AuxRelayMode AuxRelayMode     `koanf:"aux_relay_mode"`
	TODIntervals []IntervalConfig `koanf:"tod_intervals"`
	TODPoweroff  bool             `koanf:"tod_poweroff"`

	Instruments map[string]InstrumentConfig `koanf:"instruments"`
}

// Default returns the configuration defaults the teacher's multiserver
// mkconf flow seeds via the structs provider before overlaying the file
// on disk.
func Default() Config {
	return Config{
		Serial:  SerialConfig{Port: "/dev/ttyUSB0", Baud: 9600},
		Command: CommandConfig{MaxInflight: 1, Retries: 2, Timeout: 4 * time.Second},
		Scheduler: SchedulerConfig{
			UploadPeriod:      60 * time.Second,
			WatchdogKeepalive: 100 * time.Second,
			RTCCheckPeriod:    12 * time.Hour,
			RTCDelta:          5 * time.Second,
			TODEvalPeriod:     60 * time.Second,
		},
		UDP:           UDPConfig{RxPort: 9900, TxPort: 9901},
		Sync:          true,
		VoltThreshold: 11.8,
		VoltDelta:     0.2,
		VoltTime:      30 * time.Second,
		LowVoltMode:   ScriptNever,
		RoofScript:    ScriptConfig{Mode: ScriptNever},
		AuxRelayMode:  AuxTimed,
	}
}

// Load reads path as an INI file, layering it over Default() the same
// way cmd/multiserver's setupconfig layers a YAML file over struct
// defaults: a structs.Provider seeds defaults, then a file.Provider
// overlays the on-disk values. It returns ErrAmbiguousValue, without
// attempting to guess, if the raw file content matches the known
// corrupted aux_relay_mode fragment.
func Load(path string) (Config, error) {
	raw, err := readFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if hasAmbiguousAuxRelayMode(raw) {
		return Config{}, ErrAmbiguousValue
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: seeding defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), ini.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// hasAmbiguousAuxRelayMode detects the corrupted configuration fragment
// described in spec §9: a duplicated aux_relay_mode key with a
// commented-out mqtt_publish_where_status key interleaved in the same
// stanza, making the intended value unrecoverable.
func hasAmbiguousAuxRelayMode(raw string) bool {
	count := 0
	sawInterleavedComment := false
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "aux_relay_mode") {
			count++
			// look at the immediate neighbors for the interleaved comment
			for _, j := range []int{i - 1, i + 1} {
				if j < 0 || j >= len(lines) {
					continue
				}
				neighbor := strings.TrimSpace(lines[j])
				if strings.HasPrefix(neighbor, ";") || strings.HasPrefix(neighbor, "#") {
					if strings.Contains(strings.ToLower(neighbor), "mqtt_publish_where_status") {
						sawInterleavedComment = true
					}
				}
			}
		}
	}
	return count > 1 && sawInterleavedComment
}

func validate(cfg Config) error {
	if cfg.Serial.Baud != 9600 && cfg.Serial.Baud != 57600 {
		return fmt.Errorf("config: unsupported baud rate %d", cfg.Serial.Baud)
	}
	if cfg.Command.MaxInflight < 1 {
		return errors.New("config: command.max_inflight must be >= 1")
	}
	if cfg.AuxRelayMode != AuxNever && cfg.AuxRelayMode != AuxOnce && cfg.AuxRelayMode != AuxTimed {
		return fmt.Errorf("config: invalid aux_relay_mode %q", cfg.AuxRelayMode)
	}
	return nil
}
