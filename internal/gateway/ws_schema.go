package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound event names.
const (
	eventAuthenticate  = "authenticate"
	eventSessionKeyAck = "session_key_ack"
	eventClientRequest = "client_request"
)

// Outbound event names.
const (
	eventAuthSuccess         = "auth_success"
	eventAuthFailed          = "auth_failed"
	eventSessionKeyConfirmed = "session_key_confirmed"
	eventResult              = "result"
	eventError               = "error"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	events  map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		frameSchema, err := jsonschema.CompileString("ws_frame", wsFrameSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.frame = frameSchema

		events := map[string]string{
			eventAuthenticate:  wsAuthenticateSchema,
			eventSessionKeyAck: wsSessionKeyAckSchema,
			eventClientRequest: wsClientRequestSchema,
		}
		wsSchemas.events = make(map[string]*jsonschema.Schema, len(events))
		for name, schema := range events {
			compiled, err := jsonschema.CompileString("ws_event_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.events[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// validateWSFrame checks the frame envelope and then the event's data.
func validateWSFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.frame.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	schema := wsSchemas.events[frame.Event]
	if schema == nil {
		return fmt.Errorf("unsupported event %q", frame.Event)
	}
	var data any
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return err
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	return schema.Validate(data)
}

func supportedWSEvents() []string {
	return []string{eventAuthenticate, eventSessionKeyAck, eventClientRequest}
}

const wsFrameSchema = `{
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {"type": "string", "enum": ["authenticate", "session_key_ack", "client_request"]},
    "data": {}
  },
  "additionalProperties": false
}`

const wsAuthenticateSchema = `{
  "type": "object",
  "properties": {
    "token": {"type": ["string", "null"]},
    "client_public_key": {"type": ["string", "null"]},
    "clientPublicKey": {"type": ["string", "null"]}
  }
}`

const wsSessionKeyAckSchema = `{
  "type": "object"
}`

const wsClientRequestSchema = `{
  "type": ["object", "string"],
  "properties": {
    "encrypted": {"type": "string"},
    "iv": {"type": "string"},
    "instruction": {"type": "string"},
    "message": {"type": "string"}
  }
}`
