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
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/edgeo-scada/canopen"
)

var (
	subSection = regexp.MustCompile(`^([0-9a-f]{4})sub([0-9a-f]{1,2})$`)
	varSection = regexp.MustCompile(`^([0-9a-f]{4})$`)
)

// EDS object types (CiA 306).
const (
	edsObjectVar    = 0x7
	edsObjectArray  = 0x8
	edsObjectRecord = 0x9
)

// ParseEDS reads an Electronic Data Sheet. Readable sub-objects with a
// supported data type become objects; TPDO1..4 mappings are taken from
// the 0x1800 and 0x1A00 default values.
func ParseEDS(data []byte, node canopen.NodeID) (*Profile, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         true,
		IgnoreInlineComment: true,
		AllowBooleanKeys:    true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse eds: %w", err)
	}

	p := &Profile{}
	for _, name := range []string{"deviceinfo", "fileinfo"} {
		if sec, err := cfg.GetSection(name); err == nil {
			if v := sec.Key("productname").String(); v != "" {
				p.Name = v
				break
			}
		}
	}

	for _, sec := range cfg.Sections() {
		name := sec.Name()

		var addr canopen.Address
		if m := subSection.FindStringSubmatch(name); m != nil {
			index, _ := strconv.ParseUint(m[1], 16, 16)
			sub, _ := strconv.ParseUint(m[2], 16, 8)
			addr = canopen.Address{Index: uint16(index), Sub: uint8(sub)}
		} else if m := varSection.FindStringSubmatch(name); m != nil {
			// Plain VAR objects carry their value at sub-index 0.
			ot, err := parseNumber(sec.Key("objecttype").MustString("0x7"), node)
			if err != nil || ot != edsObjectVar {
				continue
			}
			index, _ := strconv.ParseUint(m[1], 16, 16)
			addr = canopen.Address{Index: uint16(index)}
		} else {
			continue
		}

		access, ok := ParseAccess(sec.Key("accesstype").String())
		if !ok {
			p.Skipped++
			continue
		}
		code, err := parseNumber(sec.Key("datatype").String(), node)
		if err != nil {
			p.Skipped++
			continue
		}
		dt, ok := canopen.DataTypeFromEDS(uint16(code))
		if !ok {
			p.Skipped++
			continue
		}

		p.Objects = append(p.Objects, Object{
			Address: addr,
			Type:    dt,
			Name:    objectName(cfg, sec, addr),
			Access:  access,
			Default: sec.Key("defaultvalue").String(),
		})
	}
	p.sortObjects()

	for n := 1; n <= canopen.MaxTPDO; n++ {
		m, ok := edsTPDO(cfg, n, node)
		if !ok {
			continue
		}
		p.enrich(&m)
		p.TPDOs = append(p.TPDOs, m)
	}
	return p, nil
}

// objectName prefixes a sub-object name with its parent's name so that
// "Temperature" under "Sensors" reads "Sensors.Temperature". VAR objects
// keep their own name.
func objectName(cfg *ini.File, sec *ini.Section, addr canopen.Address) string {
	name := strings.TrimSpace(sec.Key("parametername").String())
	parent, err := cfg.GetSection(fmt.Sprintf("%04x", addr.Index))
	if err != nil || parent == sec {
		return name
	}
	ot, err := strconv.ParseUint(parent.Key("objecttype").MustString("0x7"), 0, 8)
	if err != nil || (ot != edsObjectArray && ot != edsObjectRecord) {
		return name
	}
	if pname := strings.TrimSpace(parent.Key("parametername").String()); pname != "" {
		return pname + "." + name
	}
	return name
}

func edsTPDO(cfg *ini.File, n int, node canopen.NodeID) (canopen.PDOMapping, bool) {
	comm := canopen.TPDOCommBase + uint16(n-1)
	mapping := canopen.TPDOMappingBase + uint16(n-1)

	cobID, err := edsDefault(cfg, comm, 1, node)
	if err != nil || uint32(cobID)&canopen.PDOInvalidBit != 0 {
		return canopen.PDOMapping{}, false
	}
	count, err := edsDefault(cfg, mapping, 0, node)
	if err != nil || count == 0 {
		return canopen.PDOMapping{}, false
	}

	m := canopen.PDOMapping{Number: n, COBID: uint32(cobID) & canopen.COBIDMask}
	for sub := uint64(1); sub <= count; sub++ {
		v, err := edsDefault(cfg, mapping, uint8(sub), node)
		if err != nil {
			return canopen.PDOMapping{}, false
		}
		m.Objects = append(m.Objects, canopen.DecodeMappingValue(uint32(v)))
	}
	return m, true
}

func edsDefault(cfg *ini.File, index uint16, sub uint8, node canopen.NodeID) (uint64, error) {
	sec, err := cfg.GetSection(fmt.Sprintf("%04xsub%x", index, sub))
	if err != nil {
		return 0, err
	}
	return parseNumber(sec.Key("defaultvalue").String(), node)
}
