package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hakim/connprobe/internal/models"
)

// Preset is a named, well-known endpoint.
type Preset struct {
	Name        string
	Description string
	Server      string
	Port        int
}

// Target returns the preset as a probe target with the default timeout.
func (p Preset) Target() models.ProbeTarget {
	return models.NewTarget(p.Server, p.Port)
}

// builtinPresets is the registry of all known presets.
var builtinPresets = map[string]Preset{
	"gmail-imap": {
		Name:        "gmail-imap",
		Description: "Gmail IMAP over implicit TLS",
		Server:      "imap.gmail.com",
		Port:        993,
	},
	"gmail-smtps": {
		Name:        "gmail-smtps",
		Description: "Gmail SMTP submission over implicit TLS",
		Server:      "smtp.gmail.com",
		Port:        465,
	},
	"outlook-imap": {
		Name:        "outlook-imap",
		Description: "Outlook / Microsoft 365 IMAP over implicit TLS",
		Server:      "outlook.office365.com",
		Port:        993,
	},
	"outlook-pop3": {
		Name:        "outlook-pop3",
		Description: "Outlook / Microsoft 365 POP3 over implicit TLS",
		Server:      "outlook.office365.com",
		Port:        995,
	},
	"yahoo-imap": {
		Name:        "yahoo-imap",
		Description: "Yahoo Mail IMAP over implicit TLS",
		Server:      "imap.mail.yahoo.com",
		Port:        993,
	},
	"icloud-imap": {
		Name:        "icloud-imap",
		Description: "iCloud Mail IMAP over implicit TLS",
		Server:      "imap.mail.me.com",
		Port:        993,
	},
}

// BuiltinPresets returns the available presets.
func BuiltinPresets() map[string]Preset {
	// Return a copy so callers cannot mutate the registry.
	out := make(map[string]Preset, len(builtinPresets))
	for k, v := range builtinPresets {
		out[k] = v
	}
	return out
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(builtinPresets))
	for k := range builtinPresets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a preset by name, or an error if not found.
func GetPreset(name string) (*Preset, error) {
	p, ok := builtinPresets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q, available: %s", name, strings.Join(PresetNames(), ", "))
	}
	cp := p
	return &cp, nil
}
