package languages

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type profileFile struct {
	Languages []Language `yaml:"languages"`
}

// LoadFile reads profile overrides from a YAML document of the form
//
//	languages:
//	  - id: python
//	    run_command: ["pypy3", "{source}"]
//	    time_limit: 5s
func LoadFile(path string) ([]Language, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language file: %w", err)
	}

	var f profileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse language file %s: %w", path, err)
	}
	return f.Languages, nil
}
