package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KilianBerger/OpenLabHost/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultBasePort              = 50051
	DefaultMaxTimeWithoutPower   = 20 * time.Second
	DefaultMaxTimeWithoutTraffic = 10 * time.Minute
)

// Configuration is the parsed device configuration file. One service endpoint
// is provisioned per device.
type Configuration struct {
	Name                   string
	Version                int
	ServerIP               string
	ServerBasePort         int
	EnableDiscovery        bool
	RegenerateCertificates bool
	SimulateMissing        bool
	MaxTimeWithoutPower    time.Duration
	MaxTimeWithoutTraffic  time.Duration
	Devices                []*Device
}

// HasBattery reports whether any configured device is battery powered; the
// power and inactivity guards only run in that case.
func (c *Configuration) HasBattery() bool {
	for _, d := range c.Devices {
		if d.IsBatteryPowered() {
			return true
		}
	}
	return false
}

// BatteryDevice returns the first battery-backed device, if any.
func (c *Configuration) BatteryDevice() (*Device, bool) {
	for _, d := range c.Devices {
		if d.IsBatteryPowered() {
			return d, true
		}
	}
	return nil, false
}

type rawDevice struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Manufacturer string `json:"manufacturer"`
	Simulated    bool   `json:"simulated"`
	Port         string `json:"port"`
	ServerURL    string `json:"server_url"`
}

type rawConfig struct {
	Version                int         `json:"version"`
	ServerIP               string      `json:"server_ip"`
	ServerBasePort         int         `json:"server_base_port"`
	EnableDiscovery        *bool       `json:"enable_discovery"`
	RegenerateCertificates bool        `json:"regenerate_certificates"`
	SimulateMissing        bool        `json:"simulate_missing"`
	MaxTimeWithoutPower    string      `json:"max_time_without_power"`
	MaxTimeWithoutTraffic  string      `json:"max_time_without_traffic"`
	Devices                []rawDevice `json:"devices"`
}

// DriverFactory creates the driver for one configured device. Vendor driver
// factories connect to real hardware; the default factory only builds
// simulated drivers.
type DriverFactory func(raw RawDeviceInfo) (Driver, error)

// RawDeviceInfo carries the connection details a driver factory needs.
type RawDeviceInfo struct {
	Name         string
	Kind         Kind
	Manufacturer string
	Simulated    bool
	Port         string
	ServerURL    string
}

// SimDriverFactory builds a simulated driver for any known device kind.
func SimDriverFactory(raw RawDeviceInfo) (Driver, error) {
	switch raw.Kind {
	case KindPump:
		return NewSimPumpDriver(), nil
	case KindMobileDosage:
		return NewSimBatteryDriver(), nil
	case KindStirrer:
		return NewSimStirrerDriver(), nil
	case KindValve, KindBalance, KindHeatingCooling, KindPurification:
		return NewSimDriver(), nil
	default:
		return nil, &types.UnknownDeviceTypeError{Device: raw.Name, Type: string(raw.Kind)}
	}
}

type Loader struct {
	validator *Validator
	factories map[Kind]DriverFactory
	logger    *zap.Logger
}

func NewLoader(logger *zap.Logger) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator: validator,
		factories: make(map[Kind]DriverFactory),
		logger:    logger,
	}, nil
}

// RegisterFactory installs a vendor driver factory for a device kind.
// Kinds without a registered factory fall back to simulated drivers.
func (l *Loader) RegisterFactory(kind Kind, factory DriverFactory) {
	l.factories[kind] = factory
}

// Load parses, validates and materializes the device configuration at path.
// Devices with an unknown type are skipped with a warning. A device whose
// vendor driver cannot connect is swapped to its simulated counterpart when
// simulate_missing is set, otherwise it is skipped.
func (l *Loader) Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device config %s: %w", path, err)
	}
	data = stripLineComments(data)

	if err := l.validator.ValidateConfig(data); err != nil {
		return nil, fmt.Errorf("device config %s is invalid: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device config: %w", err)
	}

	cfg := &Configuration{
		Name:                   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Version:                raw.Version,
		ServerIP:               raw.ServerIP,
		ServerBasePort:         raw.ServerBasePort,
		EnableDiscovery:        true,
		RegenerateCertificates: raw.RegenerateCertificates,
		SimulateMissing:        raw.SimulateMissing,
		MaxTimeWithoutPower:    DefaultMaxTimeWithoutPower,
		MaxTimeWithoutTraffic:  DefaultMaxTimeWithoutTraffic,
	}
	if raw.EnableDiscovery != nil {
		cfg.EnableDiscovery = *raw.EnableDiscovery
	}
	if cfg.ServerBasePort == 0 {
		cfg.ServerBasePort = DefaultBasePort
	}
	if raw.MaxTimeWithoutPower != "" {
		d, err := time.ParseDuration(raw.MaxTimeWithoutPower)
		if err != nil {
			return nil, fmt.Errorf("invalid max_time_without_power: %w", err)
		}
		cfg.MaxTimeWithoutPower = d
	}
	if raw.MaxTimeWithoutTraffic != "" {
		d, err := time.ParseDuration(raw.MaxTimeWithoutTraffic)
		if err != nil {
			return nil, fmt.Errorf("invalid max_time_without_traffic: %w", err)
		}
		cfg.MaxTimeWithoutTraffic = d
	}

	for _, rd := range raw.Devices {
		device, err := l.buildDevice(rd, cfg.SimulateMissing)
		if err != nil {
			l.logger.Warn("Skipping device",
				zap.String("device", rd.Name),
				zap.String("type", rd.Type),
				zap.Error(err))
			continue
		}
		cfg.Devices = append(cfg.Devices, device)
	}

	l.logger.Info("Device configuration loaded",
		zap.String("config", cfg.Name),
		zap.Int("devices", len(cfg.Devices)),
		zap.Int("base_port", cfg.ServerBasePort))

	return cfg, nil
}

func (l *Loader) buildDevice(rd rawDevice, simulateMissing bool) (*Device, error) {
	kind := Kind(rd.Type)
	if !KnownKinds[kind] {
		return nil, &types.UnknownDeviceTypeError{Device: rd.Name, Type: rd.Type}
	}

	info := RawDeviceInfo{
		Name:         rd.Name,
		Kind:         kind,
		Manufacturer: rd.Manufacturer,
		Simulated:    rd.Simulated,
		Port:         rd.Port,
		ServerURL:    rd.ServerURL,
	}

	device := &Device{
		Name:         rd.Name,
		Kind:         kind,
		Manufacturer: rd.Manufacturer,
		Simulated:    rd.Simulated,
	}

	factory := l.factories[kind]
	if rd.Simulated || factory == nil {
		driver, err := SimDriverFactory(info)
		if err != nil {
			return nil, err
		}
		device.Simulated = true
		device.Driver = driver
		return device, nil
	}

	driver, err := factory(info)
	if err != nil {
		if !simulateMissing {
			return nil, fmt.Errorf("driver for %s not reachable: %w", rd.Name, err)
		}
		l.logger.Warn("Driver not reachable, falling back to simulation",
			zap.String("device", rd.Name),
			zap.Error(err))
		sim, simErr := SimDriverFactory(info)
		if simErr != nil {
			return nil, simErr
		}
		device.Simulated = true
		device.Driver = sim
		return device, nil
	}

	device.Driver = driver
	return device, nil
}

// stripLineComments removes lines whose first non-blank characters are "//".
// Site tooling writes such comments into device configurations.
func stripLineComments(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			lines[i] = ""
		}
	}
	return []byte(strings.Join(lines, "\n"))
}
