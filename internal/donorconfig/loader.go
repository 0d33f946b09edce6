// Package donorconfig loads and validates donors_config.json (spec §6):
// the list of donor sources to connect on startup. Grounded on
// original_source/donors/donor_config_loader.py's DonorConfigLoader, using
// plain encoding/json rather than viper/mapstructure since the original
// never treated donor config as a structured document — it hand-validates
// a loosely-typed list and defaults missing fields in place.
package donorconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// SourceType enumerates the donor variants spec §4.2 recognizes.
type SourceType string

const (
	PythonAPI  SourceType = "python_api"
	SocketMT4  SourceType = "socket_mt4"
	SocketMT5  SourceType = "socket_mt5"
)

// Donor is one entry of donors_config.json's "donors" array.
type Donor struct {
	ID            string     `json:"id"`
	Type          SourceType `json:"type"`
	AccountNumber int64      `json:"account_number"`
	Host          string     `json:"host,omitempty"`
	Port          int        `json:"port,omitempty"`
	Description   string     `json:"description,omitempty"`
}

type file struct {
	Donors []Donor `json:"donors"`
}

// Load reads and validates donors_config.json. An individual invalid entry
// is logged and skipped rather than failing the whole load (matches
// DonorConfigLoader.load_from_file, which drops a bad entry but keeps the
// rest); a missing or unparseable file is a hard error since, unlike the
// State Persistor's sync_state.json, there is no safe empty default for
// "which donors to connect to".
func Load(path string, logger *slog.Logger) ([]Donor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("donorconfig: read %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("donorconfig: parse %s: %w", path, err)
	}

	if len(f.Donors) == 0 {
		logger.Warn("donors_config.json contains no donors", "path", path)
		return nil, nil
	}

	validated := make([]Donor, 0, len(f.Donors))
	for _, d := range f.Donors {
		if err := validate(&d); err != nil {
			logger.Warn("skipping invalid donor config entry", "id", d.ID, "error", err)
			continue
		}
		if d.Description != "" {
			logger.Info("donor configured", "id", d.ID, "type", d.Type, "description", d.Description)
		}
		validated = append(validated, d)
	}
	return validated, nil
}

func validate(d *Donor) error {
	if d.ID == "" {
		return fmt.Errorf("missing required field 'id'")
	}
	if d.AccountNumber == 0 {
		return fmt.Errorf("donor %s: missing required field 'account_number'", d.ID)
	}
	switch d.Type {
	case PythonAPI, SocketMT4, SocketMT5:
	default:
		return fmt.Errorf("donor %s: unknown type %q (valid: %s, %s, %s)", d.ID, d.Type, PythonAPI, SocketMT4, SocketMT5)
	}
	if d.Type == SocketMT4 || d.Type == SocketMT5 {
		if d.Host == "" {
			d.Host = "localhost"
		}
		if d.Port == 0 {
			return fmt.Errorf("donor %s: socket donor requires 'port'", d.ID)
		}
	}
	return nil
}
