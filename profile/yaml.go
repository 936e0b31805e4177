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

package profile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/edgeo-scada/canopen"
)

// yamlProfile is the YAML layout of a device profile:
//
//	name: Demo node
//	objects:
//	  - address: "0x2000:01"
//	    type: real32
//	    name: Temperature
//	tpdos:
//	  - number: 1
//	    cob_id: 0x181
//	    objects:
//	      - {address: "0x2100:01", bits: 16, type: uint16}
type yamlProfile struct {
	Name    string       `yaml:"name"`
	Objects []yamlObject `yaml:"objects"`
	TPDOs   []yamlTPDO   `yaml:"tpdos"`
}

type yamlObject struct {
	Address string `yaml:"address"`
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Access  string `yaml:"access"`
	Bits    uint8  `yaml:"bits"`
}

type yamlTPDO struct {
	Number  int          `yaml:"number"`
	COBID   uint32       `yaml:"cob_id"`
	Objects []yamlObject `yaml:"objects"`
}

// ParseYAML reads a YAML profile. Unlike EDS parsing, any invalid entry
// fails the whole profile.
func ParseYAML(data []byte) (*Profile, error) {
	var y yamlProfile
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("YAML parse error: %w", err)
	}

	p := &Profile{Name: y.Name}
	for i, yo := range y.Objects {
		o, err := yo.object()
		if err != nil {
			return nil, fmt.Errorf("objects[%d]: %w", i, err)
		}
		p.Objects = append(p.Objects, o)
	}
	p.sortObjects()

	for i, yt := range y.TPDOs {
		if yt.Number < 1 || yt.Number > canopen.MaxTPDO {
			return nil, fmt.Errorf("tpdos[%d]: number %d out of range 1..%d", i, yt.Number, canopen.MaxTPDO)
		}
		m := canopen.PDOMapping{Number: yt.Number, COBID: yt.COBID}
		for j, yo := range yt.Objects {
			addr, err := canopen.ParseAddress(yo.Address)
			if err != nil {
				return nil, fmt.Errorf("tpdos[%d].objects[%d]: %w", i, j, err)
			}
			mo := canopen.MappedObject{Address: addr, BitLength: yo.Bits, Name: yo.Name}
			if yo.Type != "" {
				if mo.Type, err = canopen.ParseDataType(yo.Type); err != nil {
					return nil, fmt.Errorf("tpdos[%d].objects[%d]: %w", i, j, err)
				}
				if mo.BitLength == 0 {
					mo.BitLength = uint8(mo.Type.Size() * 8)
				}
			}
			if mo.BitLength == 0 {
				return nil, fmt.Errorf("tpdos[%d].objects[%d]: bits or a fixed-size type is required", i, j)
			}
			m.Objects = append(m.Objects, mo)
		}
		p.enrich(&m)
		p.TPDOs = append(p.TPDOs, m)
	}
	return p, nil
}

func (yo yamlObject) object() (Object, error) {
	addr, err := canopen.ParseAddress(yo.Address)
	if err != nil {
		return Object{}, err
	}
	dt, err := canopen.ParseDataType(yo.Type)
	if err != nil {
		return Object{}, err
	}
	access, ok := ParseAccess(yo.Access)
	if !ok {
		return Object{}, fmt.Errorf("%s: access %q is not readable", addr, yo.Access)
	}
	return Object{Address: addr, Type: dt, Name: yo.Name, Access: access}, nil
}
