package types

import "time"

// AccessRequest is a credential check published by a door reader.
type AccessRequest struct {
	CredentialID string `json:"credentialId"`
	DoorID       string `json:"doorId"`
	DeviceID     string `json:"deviceId"`
}

// AccessDecision is the verdict for one AccessRequest.  It is never revised
// once built.
type AccessDecision struct {
	CredentialID string
	DoorID       string
	DeviceID     string
	Authorized   bool
	DecidedAt    time.Time
}

// NewDecision copies the request identifiers into a decision.
func NewDecision(req AccessRequest, authorized bool, at time.Time) AccessDecision {
	return AccessDecision{
		CredentialID: req.CredentialID,
		DoorID:       req.DoorID,
		DeviceID:     req.DeviceID,
		Authorized:   authorized,
		DecidedAt:    at.UTC(),
	}
}

// AccessResponse is the payload published back to the requesting device.
type AccessResponse struct {
	CredentialID string `json:"credentialId"`
	Authorized   bool   `json:"authorized"`
}
