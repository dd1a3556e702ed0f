package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/samber/lo"

	"github.com/touchpad-bridge/server/lib/credstore"
	"github.com/touchpad-bridge/server/lib/webos"
)

const (
	DefaultTVPort     = 3001
	DefaultUseSSL     = true
	DefaultListenBase = 8777
)

// DeviceConfig is one validated entry of the options file.
type DeviceConfig struct {
	Name       string
	Host       string
	TVPort     int
	UseSSL     bool
	Origin     *string
	ListenPort int
}

// Device returns the TV session settings for d.
func (d DeviceConfig) Device() webos.Device {
	return webos.Device{
		Name:   d.Name,
		Host:   d.Host,
		Port:   d.TVPort,
		UseTLS: d.UseSSL,
		Origin: d.Origin,
	}
}

type rawOptions struct {
	TVs json.RawMessage `json:"tvs"`
}

type rawDevice struct {
	Name       string  `json:"name"`
	Host       any     `json:"host"`
	TVPort     int     `json:"tv_port"`
	UseSSL     *bool   `json:"use_ssl"`
	Origin     *string `json:"origin"`
	ListenPort int     `json:"listen_port"`
}

// LoadOptions reads and validates the device list at path.
func LoadOptions(path string) ([]DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return ParseOptions(data)
}

// ParseOptions accepts the options document as JSON or YAML. Zero or missing
// ports fall back to their defaults, and listen ports default to
// DefaultListenBase plus the entry index.
func ParseOptions(data []byte) ([]DeviceConfig, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	var opts rawOptions
	if err := json.Unmarshal(jsonData, &opts); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}

	var raws []rawDevice
	if len(opts.TVs) > 0 && string(opts.TVs) != "null" {
		if err := json.Unmarshal(opts.TVs, &raws); err != nil {
			return nil, fmt.Errorf("options.tvs must be a list of tv entries: %w", err)
		}
	}

	devices := make([]DeviceConfig, 0, len(raws))
	for idx, raw := range raws {
		d, err := raw.resolve(idx)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := validateDevices(devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (r rawDevice) resolve(idx int) (DeviceConfig, error) {
	host, ok := r.Host.(string)
	if !ok || strings.TrimSpace(host) == "" {
		return DeviceConfig{}, fmt.Errorf("tv entry %d is missing a valid 'host'", idx)
	}
	d := DeviceConfig{
		Name:       r.Name,
		Host:       strings.TrimSpace(host),
		TVPort:     r.TVPort,
		UseSSL:     DefaultUseSSL,
		Origin:     r.Origin,
		ListenPort: r.ListenPort,
	}
	if d.Name == "" {
		d.Name = fmt.Sprintf("tv%d", idx+1)
	}
	if d.TVPort == 0 {
		d.TVPort = DefaultTVPort
	}
	if r.UseSSL != nil {
		d.UseSSL = *r.UseSSL
	}
	if d.ListenPort == 0 {
		d.ListenPort = DefaultListenBase + idx
	}
	if !validPort(d.TVPort) {
		return DeviceConfig{}, fmt.Errorf("tv entry %d: tv_port %d out of range", idx, d.TVPort)
	}
	if !validPort(d.ListenPort) {
		return DeviceConfig{}, fmt.Errorf("tv entry %d: listen_port %d out of range", idx, d.ListenPort)
	}
	return d, nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func validateDevices(devices []DeviceConfig) error {
	if dups := lo.FindDuplicatesBy(devices, func(d DeviceConfig) string { return d.Name }); len(dups) > 0 {
		return fmt.Errorf("duplicate tv name %q", dups[0].Name)
	}
	if dups := lo.FindDuplicatesBy(devices, func(d DeviceConfig) string { return credstore.FileName(d.Name) }); len(dups) > 0 {
		return fmt.Errorf("tv name %q shares key file %s with another tv", dups[0].Name, credstore.FileName(dups[0].Name))
	}
	if dups := lo.FindDuplicatesBy(devices, func(d DeviceConfig) int { return d.ListenPort }); len(dups) > 0 {
		return fmt.Errorf("duplicate listen_port %d", dups[0].ListenPort)
	}
	return nil
}
