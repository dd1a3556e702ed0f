package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// Kind is the "t" field of a client message.
type Kind string

const (
	KindMove        Kind = "move"
	KindScroll      Kind = "scroll"
	KindClick       Kind = "click"
	KindDoubleClick Kind = "double_click"
	KindText        Kind = "text"
	KindKey         Kind = "key"
	KindVolume      Kind = "volume"
)

var (
	errNotObject = errors.New("client message is not a json object")
	errNotFinite = errors.New("delta is not a finite number")
)

// Command is one decoded client message.
type Command struct {
	Kind   Kind
	DX, DY float64
	Text   string
	Key    string
	Action string
}

type rawCommand struct {
	T      string          `json:"t"`
	DX     number          `json:"dx"`
	DY     number          `json:"dy"`
	Text   json.RawMessage `json:"text"`
	Key    json.RawMessage `json:"key"`
	Action json.RawMessage `json:"action"`
}

// number accepts a JSON number or a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		return n.set(f)
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	return n.set(f)
}

func (n *number) set(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errNotFinite
	}
	*n = number(f)
	return nil
}

// stringField returns the field when it is a JSON string, else "".
func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// DecodeCommand parses one client frame. Non-string text, key and action
// fields decode as empty and are ignored by the dispatcher.
func DecodeCommand(data []byte) (Command, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Command{}, errNotObject
	}
	var raw rawCommand
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, err
	}
	return Command{
		Kind:   Kind(raw.T),
		DX:     float64(raw.DX),
		DY:     float64(raw.DY),
		Text:   stringField(raw.Text),
		Key:    stringField(raw.Key),
		Action: stringField(raw.Action),
	}, nil
}
