package nats_exchange_flow

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/beevik/etree"
	"gopkg.in/yaml.v3"
)

// MessageType discriminates payload content. Any other string is a custom type.
type MessageType string

const (
	MessageTypeUnspecified MessageType = "UNSPECIFIED"
	MessageTypePlaintext   MessageType = "PLAINTEXT"
	MessageTypeJSON        MessageType = "JSON"
	MessageTypeXML         MessageType = "XML"
	MessageTypeYAML        MessageType = "YAML"
)

func (t MessageType) String() string {
	return string(t)
}

func (t MessageType) IsCustom() bool {
	switch t {
	case MessageTypeUnspecified, MessageTypePlaintext, MessageTypeJSON, MessageTypeXML, MessageTypeYAML:
		return false
	}
	return t != ""
}

// DetectType always returns a type. Checks run in order: nil, structured Go
// values, XML, JSON, YAML; anything left is plain text.
func DetectType(payload any) MessageType {
	switch p := payload.(type) {
	case nil:
		return MessageTypeUnspecified
	case string:
		return detectTextType(p)
	case []byte:
		return detectTextType(string(p))
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return MessageTypePlaintext
	}
	if isStructured(payload) {
		return MessageTypeJSON
	}
	return MessageTypePlaintext
}

func detectTextType(text string) MessageType {
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageTypePlaintext
	}

	switch text[0] {
	case '<':
		doc := etree.NewDocument()
		if err := doc.ReadFromString(text); err == nil && doc.Root() != nil {
			return MessageTypeXML
		}
		return MessageTypePlaintext
	case '{', '[':
		if json.Valid([]byte(text)) {
			return MessageTypeJSON
		}
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err == nil && len(node.Content) > 0 {
		switch node.Content[0].Kind {
		case yaml.MappingNode, yaml.SequenceNode:
			return MessageTypeYAML
		}
	}
	return MessageTypePlaintext
}

func isStructured(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Array:
		return true
	case reflect.Slice:
		return rv.Type().Elem().Kind() != reflect.Uint8
	}
	return false
}
