// Package codec converts between bus payloads and access types.  Requests
// and responses are JSON objects keyed by field name.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/types"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
)

// MissingFieldError names a required request field that was absent, null or
// empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

// requestField pairs a canonical key with the name early reader firmware used.
type requestField struct {
	name   string
	legacy string
}

var (
	fieldCredential = requestField{name: "credentialId", legacy: "uid"}
	fieldDoor       = requestField{name: "doorId", legacy: "door"}
	fieldDevice     = requestField{name: "deviceId", legacy: "device"}
)

// DecodeRequest parses an inbound payload.  Field values are opaque: they are
// neither trimmed nor checked for length or charset.
func DecodeRequest(payload []byte) (types.AccessRequest, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return types.AccessRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return types.AccessRequest{}, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	var req types.AccessRequest
	for _, f := range []struct {
		field requestField
		dst   *string
	}{
		{fieldCredential, &req.CredentialID},
		{fieldDoor, &req.DoorID},
		{fieldDevice, &req.DeviceID},
	} {
		v, err := stringField(obj, f.field)
		if err != nil {
			return types.AccessRequest{}, err
		}
		*f.dst = v
	}

	return req, nil
}

func stringField(obj map[string]json.RawMessage, f requestField) (string, error) {
	raw, ok := obj[f.name]
	if !ok || isNull(raw) {
		raw, ok = obj[f.legacy]
	}
	if !ok || isNull(raw) {
		return "", &MissingFieldError{Field: f.name}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %q is not a string", ErrMalformedPayload, f.name)
	}
	if s == "" {
		return "", &MissingFieldError{Field: f.name}
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// EncodeDecision renders the device-facing response for d.
func EncodeDecision(d types.AccessDecision) []byte {
	b, err := json.Marshal(types.AccessResponse{
		CredentialID: d.CredentialID,
		Authorized:   d.Authorized,
	})
	if err != nil {
		// Two plain fields; json.Marshal cannot fail here.
		panic(fmt.Sprintf("codec: marshal response: %v", err))
	}
	return b
}

// ResponseTopic is the per-device channel a decision is published on.
func ResponseTopic(base, deviceID string) string {
	return strings.TrimSuffix(base, "/") + "/" + deviceID
}
