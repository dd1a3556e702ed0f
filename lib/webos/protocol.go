package webos

import (
	"encoding/json"
	"fmt"
)

// Control URIs used by the bridge.
const (
	URIPointerInputSocket = "ssap://com.webos.service.networkinput/getPointerInputSocket"
	URIRemoteKeyboard     = "ssap://com.webos.service.ime/registerRemoteKeyboard"
	URIInsertText         = "ssap://com.webos.service.ime/insertText"
	URIDeleteCharacters   = "ssap://com.webos.service.ime/deleteCharacters"
)

// Envelope types on the control socket.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeRequest    = "request"
	TypeResponse   = "response"
	TypeError      = "error"
)

// Message is the JSON envelope exchanged on the control socket.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ResponsePayload covers every payload field the bridge reads back.
type ResponsePayload struct {
	ReturnValue bool   `json:"returnValue"`
	SocketPath  string `json:"socketPath"`
	PairingType string `json:"pairingType"`
	ClientKey   string `json:"client-key"`
}

// DecodePayload tolerates an absent payload.
func (m Message) DecodePayload() (ResponsePayload, error) {
	var p ResponsePayload
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return p, nil
}

func newRequest(id, uri string, payload any) (Message, error) {
	msg := Message{ID: id, Type: TypeRequest, URI: uri}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

type manifest struct {
	ManifestVersion   int               `json:"manifestVersion"`
	AppID             string            `json:"appId"`
	VendorID          string            `json:"vendorId"`
	LocalizedAppNames map[string]string `json:"localizedAppNames"`
	Permissions       []string          `json:"permissions"`
	Serial            string            `json:"serial"`
}

type registerPayload struct {
	ForcePairing bool     `json:"forcePairing"`
	PairingType  string   `json:"pairingType"`
	Manifest     manifest `json:"manifest"`
	ClientKey    string   `json:"client-key,omitempty"`
}

var bridgeManifest = manifest{
	ManifestVersion:   1,
	AppID:             "com.touchpad.bridge",
	VendorID:          "com.touchpad",
	LocalizedAppNames: map[string]string{"": "Touchpad Pointer Bridge"},
	Permissions: []string{
		"LAUNCH",
		"CONTROL_INPUT_TEXT",
		"CONTROL_MOUSE_AND_KEYBOARD",
		"READ_INSTALLED_APPS",
	},
	Serial: "0000",
}

func newRegisterMessage(id, clientKey string) (Message, error) {
	raw, err := json.Marshal(registerPayload{
		ForcePairing: false,
		PairingType:  "PROMPT",
		Manifest:     bridgeManifest,
		ClientKey:    clientKey,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Type: TypeRegister, Payload: raw}, nil
}
