package wire

import (
	"encoding/json"
	"fmt"
)

// Encode renders m in its externally tagged wire form. The variant types
// hold nothing but strings and string slices, so marshalling cannot fail.
func Encode(m Msg) []byte {
	switch v := m.(type) {
	case Ping:
		return []byte(`"Ping"`)
	case Text:
		if v.Lines == nil {
			v.Lines = []string{}
		}
		return tagged("Text", v)
	case Priv:
		return tagged("Priv", v)
	case Logout:
		return tagged("Logout", string(v))
	case Name:
		return tagged("Name", string(v))
	case Join:
		return tagged("Join", string(v))
	case Query:
		return tagged("Query", v)
	case Block:
		return tagged("Block", string(v))
	case Unblock:
		return tagged("Unblock", string(v))
	case Op:
		if v.Verb == OpOpen || v.Verb == OpClose {
			return tagged("Op", string(v.Verb))
		}
		return tagged("Op", map[string]string{string(v.Verb): v.Name})
	case Info:
		return tagged("Info", string(v))
	case Err:
		return tagged("Err", string(v))
	case Misc:
		if v.Data == nil {
			v.Data = []string{}
		}
		return tagged("Misc", v)
	}
	panic(fmt.Sprintf("wire: cannot encode %T", m))
}

// Decode parses exactly one message from data, which must hold a single
// complete JSON value; the frame layer isolates values from the stream.
// Unknown variants and malformed payloads are errors.
func Decode(data []byte) (Msg, error) {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		if unit == "Ping" {
			return Ping{}, nil
		}
		return nil, fmt.Errorf("wire: unknown message %q", unit)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("wire: malformed message: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("wire: message must carry exactly one tag, found %d", len(obj))
	}

	var tag string
	var raw json.RawMessage
	for k, v := range obj {
		tag, raw = k, v
	}

	switch tag {
	case "Text":
		var v Text
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("wire: bad Text payload: %w", err)
		}
		return v, nil
	case "Priv":
		var v Priv
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("wire: bad Priv payload: %w", err)
		}
		return v, nil
	case "Query":
		var v Query
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("wire: bad Query payload: %w", err)
		}
		return v, nil
	case "Misc":
		var v Misc
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("wire: bad Misc payload: %w", err)
		}
		return v, nil
	case "Op":
		return decodeOp(raw)
	case "Logout":
		s, err := stringPayload(tag, raw)
		return Logout(s), err
	case "Name":
		s, err := stringPayload(tag, raw)
		return Name(s), err
	case "Join":
		s, err := stringPayload(tag, raw)
		return Join(s), err
	case "Block":
		s, err := stringPayload(tag, raw)
		return Block(s), err
	case "Unblock":
		s, err := stringPayload(tag, raw)
		return Unblock(s), err
	case "Info":
		s, err := stringPayload(tag, raw)
		return Info(s), err
	case "Err":
		s, err := stringPayload(tag, raw)
		return Err(s), err
	}
	return nil, fmt.Errorf("wire: unknown message %q", tag)
}

func decodeOp(raw json.RawMessage) (Msg, error) {
	var unit string
	if err := json.Unmarshal(raw, &unit); err == nil {
		switch OpVerb(unit) {
		case OpOpen, OpClose:
			return Op{Verb: OpVerb(unit)}, nil
		}
		return nil, fmt.Errorf("wire: unknown Op subcommand %q", unit)
	}

	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("wire: bad Op payload: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("wire: Op must carry exactly one subcommand, found %d", len(obj))
	}
	for verb, name := range obj {
		switch OpVerb(verb) {
		case OpKick, OpInvite, OpGive:
			return Op{Verb: OpVerb(verb), Name: name}, nil
		}
		return nil, fmt.Errorf("wire: unknown Op subcommand %q", verb)
	}
	return nil, fmt.Errorf("wire: empty Op payload")
}

func stringPayload(tag string, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("wire: bad %s payload: %w", tag, err)
	}
	return s, nil
}

func tagged(tag string, payload any) []byte {
	b, err := json.Marshal(map[string]any{tag: payload})
	if err != nil {
		panic(fmt.Sprintf("wire: marshal %s: %v", tag, err))
	}
	return b
}
