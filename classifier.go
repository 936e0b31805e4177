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

package canopen

// Classify routes a reading by its data type. Failed readings become
// diagnostics; numeric types go to the numeric stream and string types to
// the text stream. There is no other case.
func Classify(r Reading) Event {
	ev := Event{
		Address:   r.Address,
		Timestamp: r.Timestamp,
		Reading:   r,
	}

	if r.Err != nil {
		ev.Kind = EventDiagnostic
		ev.Err = r.Err
		return ev
	}

	if r.Type.IsNumeric() {
		ev.Kind = EventNumeric
		ev.Number, _ = r.Value.Float64()
		return ev
	}

	ev.Kind = EventText
	ev.Text = r.Value.Text
	return ev
}
