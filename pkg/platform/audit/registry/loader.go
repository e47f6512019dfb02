package registry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a registry configuration:
//
//	types:
//	  - type: accounts.User
//	    fields: [name, email]
//	    redact: [ssn]
//	  - type: accounts.Address
//	    attribute_to:
//	      parent_type: accounts.User
//	      parent_id_field: user_id
//	      field_prefix: "address."
type File struct {
	Types []Registration `yaml:"types"`
}

// Load decodes registrations from YAML.
func Load(r io.Reader) ([]Registration, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing registry file: %w", err)
	}
	for i, reg := range f.Types {
		if reg.Type == "" {
			return nil, fmt.Errorf("registry entry %d: type is required", i)
		}
		if a := reg.AttributeTo; a != nil && (a.ParentType == "" || a.ParentIDField == "") {
			return nil, fmt.Errorf("registry entry %q: attribute_to needs parent_type and parent_id_field", reg.Type)
		}
	}
	return f.Types, nil
}

// LoadFile reads registrations from a YAML file.
func LoadFile(path string) ([]Registration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening registry file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
