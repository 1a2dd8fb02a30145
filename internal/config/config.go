// Package config decodes the JSON mirror specification file and
// derives the sources.list line a client would use against the local
// mirror, grounded on the teacher's DittoConfig field set (repo/repo.go)
// and on cybozu-go/aptutil's MirrConfig-to-client-config responsibility.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// MirrorSpec is one entry of the JSON mirror configuration array.
type MirrorSpec struct {
	Source        string   `json:"source"`
	Destination   string   `json:"destination"`
	Distributives []string `json:"distributives"`
	Sections      []string `json:"sections"`
	Architectures []string `json:"architectures"`
	Versions      int      `json:"versions"`
	Enabled       *bool    `json:"enabled"`
}

// IsEnabled reports whether this mirror should be processed; absent
// "enabled" defaults to true.
func (m *MirrorSpec) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Validate checks the required-field and non-empty-list rules of the
// mirror specification.
func (m *MirrorSpec) Validate() error {
	if m.Source == "" {
		return errors.New("config: mirror missing \"source\"")
	}
	if m.Destination == "" {
		return errors.New("config: mirror missing \"destination\"")
	}
	if len(m.Distributives) == 0 {
		return errors.Errorf("config: mirror %s missing \"distributives\"", m.Source)
	}
	if len(m.Sections) == 0 {
		return errors.Errorf("config: mirror %s missing \"sections\"", m.Source)
	}
	if m.Versions < 0 {
		return errors.Errorf("config: mirror %s has negative \"versions\"", m.Source)
	}
	return nil
}

// LoadMirrors decodes the JSON array at path into a slice of
// MirrorSpec, resolving each relative Destination against the
// directory containing the config file.
func LoadMirrors(path string) ([]MirrorSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var specs []MirrorSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}

	dir := filepath.Dir(path)
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(specs[i].Destination) {
			specs[i].Destination = filepath.Join(dir, specs[i].Destination)
		}
	}
	return specs, nil
}

// SourcesList renders the single-line deb entry a client would add to
// /etc/apt/sources.list to consume this mirror's copy of dist, per the
// (mirror, distribution) -> sources.list line documented interface.
// The arch clause is emitted only when exactly one architecture is
// configured.
func SourcesList(m MirrorSpec, dist string) string {
	var archClause string
	if len(m.Architectures) == 1 {
		archClause = fmt.Sprintf(" [arch=%s]", m.Architectures[0])
	}
	return fmt.Sprintf("deb%s file://%s %s %s", archClause, m.Destination, dist, strings.Join(m.Sections, " "))
}
