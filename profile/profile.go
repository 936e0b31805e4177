// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package profile loads device descriptions (EDS files or YAML profiles)
// into an object directory and a set of TPDO mappings.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edgeo-scada/canopen"
)

// ErrUnknownFormat is returned by Load for unrecognized file extensions.
var ErrUnknownFormat = errors.New("profile: unknown file format")

// Object is one readable object declared by a profile.
type Object struct {
	Address canopen.Address
	Type    canopen.DataType
	Name    string
	Access  canopen.Access
	Default string
}

// Profile is a parsed device description.
type Profile struct {
	Name    string
	Source  string
	Objects []Object // ordered by address
	TPDOs   []canopen.PDOMapping
	Skipped int // objects not readable or of an unsupported type
}

// Load reads path and picks the parser by extension: .eds for EDS files,
// .yaml or .yml for YAML profiles. node resolves $NODEID expressions.
func Load(path string, node canopen.NodeID) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	var p *Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eds", ".dcf":
		p, err = ParseEDS(data, node)
	case ".yaml", ".yml":
		p, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	p.Source = path
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Lookup returns the object at addr.
func (p *Profile) Lookup(addr canopen.Address) (Object, bool) {
	i := sort.Search(len(p.Objects), func(i int) bool {
		return p.Objects[i].Address.Key() >= addr.Key()
	})
	if i < len(p.Objects) && p.Objects[i].Address == addr {
		return p.Objects[i], true
	}
	return Object{}, false
}

// Apply registers every object in dir. Conflicting registrations are
// collected and returned together; the other objects are still applied.
func (p *Profile) Apply(dir *canopen.Directory) error {
	var errs []error
	for _, o := range p.Objects {
		err := dir.Register(o.Address, o.Type,
			canopen.WithName(o.Name),
			canopen.WithAccess(o.Access))
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Directory returns a fresh directory holding the profile's objects.
func (p *Profile) Directory() (*canopen.Directory, error) {
	dir := canopen.NewDirectory()
	return dir, p.Apply(dir)
}

func (p *Profile) sortObjects() {
	sort.Slice(p.Objects, func(i, j int) bool {
		return p.Objects[i].Address.Key() < p.Objects[j].Address.Key()
	})
}

// enrich fills names and types of mapped objects from the declared
// objects.
func (p *Profile) enrich(m *canopen.PDOMapping) {
	for i := range m.Objects {
		o, ok := p.Lookup(m.Objects[i].Address)
		if !ok {
			continue
		}
		if m.Objects[i].Name == "" {
			m.Objects[i].Name = o.Name
		}
		if o.Type.Size()*8 == int(m.Objects[i].BitLength) {
			m.Objects[i].Type = o.Type
		}
	}
}

// ParseAccess maps an EDS AccessType. ok is false for write-only objects
// and unknown values.
func ParseAccess(s string) (canopen.Access, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro", "":
		return canopen.AccessReadOnly, true
	case "rw", "rwr", "rww":
		return canopen.AccessReadWrite, true
	case "const":
		return canopen.AccessConst, true
	}
	return canopen.AccessReadOnly, false
}

// parseNumber parses an EDS integer: decimal, 0x-prefixed hex, or an
// expression of the form $NODEID+<n>.
func parseNumber(s string, node canopen.NodeID) (uint64, error) {
	s = strings.TrimSpace(s)
	var base uint64
	upper := strings.ToUpper(s)
	if strings.Contains(upper, "$NODEID") {
		base = uint64(node)
		parts := strings.SplitN(s, "+", 2)
		if len(parts) != 2 {
			return base, nil
		}
		if strings.Contains(strings.ToUpper(parts[0]), "$NODEID") {
			s = parts[1]
		} else {
			s = parts[0]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return base + v, nil
}
