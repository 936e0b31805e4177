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

import (
	"errors"
	"fmt"
)

// AbortCode is an SDO abort code (CiA 301, 7.2.4.3.17).
type AbortCode uint32

// SDO abort codes.
const (
	AbortToggleBit            AbortCode = 0x05030000
	AbortTimeout              AbortCode = 0x05040000
	AbortCommandSpecifier     AbortCode = 0x05040001
	AbortOutOfMemory          AbortCode = 0x05040005
	AbortUnsupportedAccess    AbortCode = 0x06010000
	AbortWriteOnly            AbortCode = 0x06010001
	AbortReadOnly             AbortCode = 0x06010002
	AbortNoObject             AbortCode = 0x06020000
	AbortNotMappable          AbortCode = 0x06040041
	AbortPDOLength            AbortCode = 0x06040042
	AbortParamIncompatible    AbortCode = 0x06040043
	AbortInternalIncompatible AbortCode = 0x06040047
	AbortHardware             AbortCode = 0x06060000
	AbortTypeMismatch         AbortCode = 0x06070010
	AbortLengthTooHigh        AbortCode = 0x06070012
	AbortLengthTooLow         AbortCode = 0x06070013
	AbortNoSubIndex           AbortCode = 0x06090011
	AbortValueRange           AbortCode = 0x06090030
	AbortValueTooHigh         AbortCode = 0x06090031
	AbortValueTooLow          AbortCode = 0x06090032
	AbortMaxLessThanMin       AbortCode = 0x06090036
	AbortGeneral              AbortCode = 0x08000000
	AbortDataTransfer         AbortCode = 0x08000020
	AbortDataLocalControl     AbortCode = 0x08000021
	AbortDataDeviceState      AbortCode = 0x08000022
)

// String returns the CiA 301 description of the abort code.
func (c AbortCode) String() string {
	switch c {
	case AbortToggleBit:
		return "toggle bit not alternated"
	case AbortTimeout:
		return "SDO protocol timed out"
	case AbortCommandSpecifier:
		return "client/server command specifier not valid or unknown"
	case AbortOutOfMemory:
		return "out of memory"
	case AbortUnsupportedAccess:
		return "unsupported access to an object"
	case AbortWriteOnly:
		return "attempt to read a write only object"
	case AbortReadOnly:
		return "attempt to write a read only object"
	case AbortNoObject:
		return "object does not exist in the object dictionary"
	case AbortNotMappable:
		return "object cannot be mapped to the PDO"
	case AbortPDOLength:
		return "number and length of mapped objects would exceed PDO length"
	case AbortParamIncompatible:
		return "general parameter incompatibility"
	case AbortInternalIncompatible:
		return "general internal incompatibility in the device"
	case AbortHardware:
		return "access failed due to a hardware error"
	case AbortTypeMismatch:
		return "data type does not match, length of service parameter does not match"
	case AbortLengthTooHigh:
		return "data type does not match, length of service parameter too high"
	case AbortLengthTooLow:
		return "data type does not match, length of service parameter too low"
	case AbortNoSubIndex:
		return "sub-index does not exist"
	case AbortValueRange:
		return "value range of parameter exceeded"
	case AbortValueTooHigh:
		return "value of parameter written too high"
	case AbortValueTooLow:
		return "value of parameter written too low"
	case AbortMaxLessThanMin:
		return "maximum value is less than minimum value"
	case AbortGeneral:
		return "general error"
	case AbortDataTransfer:
		return "data cannot be transferred or stored to the application"
	case AbortDataLocalControl:
		return "data cannot be transferred or stored because of local control"
	case AbortDataDeviceState:
		return "data cannot be transferred or stored because of the present device state"
	default:
		return fmt.Sprintf("unknown abort code (0x%08X)", uint32(c))
	}
}

// AbortError is a remote abort received in reply to a read request.
type AbortError struct {
	Address Address
	Code    AbortCode
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("canopen: remote abort 0x%08X at %s: %s", uint32(e.Code), e.Address, e.Code)
}

// Is matches ErrRemoteAbort and any AbortError carrying the same code.
func (e *AbortError) Is(target error) bool {
	if target == ErrRemoteAbort {
		return true
	}
	t, ok := target.(*AbortError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// TypeConflictError is returned when an address is registered twice with
// different types.
type TypeConflictError struct {
	Address  Address
	Existing DataType
	Got      DataType
}

// Error implements the error interface.
func (e *TypeConflictError) Error() string {
	return fmt.Sprintf("canopen: type conflict at %s: registered as %s, got %s", e.Address, e.Existing, e.Got)
}

// Is matches ErrTypeConflict.
func (e *TypeConflictError) Is(target error) bool {
	return target == ErrTypeConflict
}

// Common errors.
var (
	// ErrChannelUnavailable indicates the CAN interface is missing or down.
	ErrChannelUnavailable = errors.New("canopen: channel unavailable")

	// ErrExchangeTimeout indicates no matching response arrived in time.
	ErrExchangeTimeout = errors.New("canopen: exchange timeout")

	// ErrRemoteAbort matches every AbortError.
	ErrRemoteAbort = errors.New("canopen: remote abort")

	// ErrMalformedFrame indicates a frame that cannot be decoded.
	ErrMalformedFrame = errors.New("canopen: malformed frame")

	// ErrUnexpectedCommand indicates an unknown command specifier.
	ErrUnexpectedCommand = fmt.Errorf("%w: unexpected command specifier", ErrMalformedFrame)

	// ErrLengthMismatch indicates a response shorter than its declared type.
	ErrLengthMismatch = fmt.Errorf("%w: length does not match data type", ErrMalformedFrame)

	// ErrTypeConflict matches every TypeConflictError.
	ErrTypeConflict = errors.New("canopen: type conflict")

	// ErrUnknownAddress indicates an address missing from the object directory.
	ErrUnknownAddress = errors.New("canopen: unknown address")

	// ErrInvalidAddress indicates an address string that cannot be parsed.
	ErrInvalidAddress = errors.New("canopen: invalid address")

	// ErrUnsupportedType indicates a data type outside the decodable set.
	ErrUnsupportedType = errors.New("canopen: unsupported data type")

	// ErrInvalidInterval indicates a non-positive polling interval.
	ErrInvalidInterval = errors.New("canopen: invalid interval")

	// ErrControlBusy indicates the supervisor control queue is full.
	ErrControlBusy = errors.New("canopen: control queue full")

	// ErrSupervisorStopped indicates the supervisor loop has exited.
	ErrSupervisorStopped = errors.New("canopen: supervisor stopped")

	// ErrClosed indicates the client transport was closed.
	ErrClosed = errors.New("canopen: closed")
)

// NewAbortError creates a new abort error.
func NewAbortError(addr Address, code AbortCode) *AbortError {
	return &AbortError{Address: addr, Code: code}
}

// IsAbort checks if an error is a remote abort with the given code.
func IsAbort(err error, code AbortCode) bool {
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return abortErr.Code == code
	}
	return false
}

// IsTimeout checks if an error is an exchange timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrExchangeTimeout)
}

// IsNoObject checks if the node reported the object as missing.
func IsNoObject(err error) bool {
	return IsAbort(err, AbortNoObject) || IsAbort(err, AbortNoSubIndex)
}
