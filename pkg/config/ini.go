package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

const interfaceSectionPrefix = "interface_"

// parseINI reads the original js8emu layout: a [general] section, one
// [interface_*] section per station and optional ambient sections.
func parseINI(data []byte) (*Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, data)
	if err != nil {
		return nil, err
	}

	var config Config

	if !file.HasSection("general") {
		return nil, fmt.Errorf("%w: missing [general] section", ErrInvalid)
	}
	general := file.Section("general")
	if config.General.FragmentSize, err = intKey(general, "fragment_size"); err != nil {
		return nil, err
	}
	if config.General.FrameTime, err = floatKey(general, "frame_time"); err != nil {
		return nil, err
	}
	config.General.DirectedText = stringKey(general, "directed_text")

	for _, section := range file.Sections() {
		if !strings.HasPrefix(section.Name(), interfaceSectionPrefix) {
			continue
		}
		ic, err := parseInterfaceSection(section)
		if err != nil {
			return nil, err
		}
		config.Interfaces = append(config.Interfaces, ic)
	}

	if file.HasSection("logging") {
		s := file.Section("logging")
		config.Logging.Level = stringKey(s, "level")
		config.Logging.File = stringKey(s, "file")
		config.Logging.Console = s.Key("console").MustBool(false)
		config.Logging.Structured = s.Key("structured").MustBool(false)
		config.Logging.MaxSize = s.Key("max_size").MustInt(0)
		config.Logging.MaxBackups = s.Key("max_backups").MustInt(0)
		config.Logging.MaxAge = s.Key("max_age").MustInt(0)
		config.Logging.Compress = s.Key("compress").MustBool(false)
	}

	if file.HasSection("web") {
		s := file.Section("web")
		config.Web.Enabled = s.Key("enabled").MustBool(false)
		config.Web.Port = s.Key("port").MustInt(0)
		config.Web.BindAddress = stringKey(s, "bind_address")
	}

	if file.HasSection("storage") {
		s := file.Section("storage")
		config.Storage.DatabasePath = stringKey(s, "database_path")
		config.Storage.MaxMessages = s.Key("max_messages").MustInt(0)
	}

	if file.HasSection("mqtt") {
		s := file.Section("mqtt")
		config.MQTT.Enabled = s.Key("enabled").MustBool(false)
		config.MQTT.Broker = stringKey(s, "broker")
		config.MQTT.Topic = stringKey(s, "topic")
		config.MQTT.Username = stringKey(s, "username")
		config.MQTT.Password = stringKey(s, "password")
		config.MQTT.ClientID = stringKey(s, "client_id")
	}

	return &config, nil
}

func parseInterfaceSection(s *ini.Section) (InterfaceConfig, error) {
	ic := InterfaceConfig{Name: s.Name()}

	for _, key := range []string{"port", "callsign", "frequency", "offset", "maidenhead"} {
		if !s.HasKey(key) {
			return ic, fmt.Errorf("%w: missing [%s] key: %s", ErrInvalid, s.Name(), key)
		}
	}

	var err error
	if ic.Port, err = intKey(s, "port"); err != nil {
		return ic, err
	}
	if ic.Frequency, err = int64Key(s, "frequency"); err != nil {
		return ic, err
	}
	if ic.Offset, err = int64Key(s, "offset"); err != nil {
		return ic, err
	}
	ic.Callsign = stringKey(s, "callsign")
	ic.Maidenhead = stringKey(s, "maidenhead")
	return ic, nil
}

// stringKey returns a trimmed value with surrounding quotes removed
func stringKey(s *ini.Section, name string) string {
	v := strings.TrimSpace(s.Key(name).String())
	v = strings.Trim(v, `"`)
	return strings.Trim(v, `'`)
}

func intKey(s *ini.Section, name string) (int, error) {
	if !s.HasKey(name) {
		return 0, fmt.Errorf("%w: missing [%s] key: %s", ErrInvalid, s.Name(), name)
	}
	v, err := s.Key(name).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: invalid [%s] value for %s: %v", ErrInvalid, s.Name(), name, err)
	}
	return v, nil
}

func int64Key(s *ini.Section, name string) (int64, error) {
	v, err := s.Key(name).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: invalid [%s] value for %s: %v", ErrInvalid, s.Name(), name, err)
	}
	return v, nil
}

func floatKey(s *ini.Section, name string) (float64, error) {
	if !s.HasKey(name) {
		return 0, fmt.Errorf("%w: missing [%s] key: %s", ErrInvalid, s.Name(), name)
	}
	v, err := s.Key(name).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: invalid [%s] value for %s: %v", ErrInvalid, s.Name(), name, err)
	}
	return v, nil
}
