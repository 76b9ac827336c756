// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package core defines the request-parameter model, the tag registry binding
// parameter types to data services, and the batch-producing service contract.
// It is the single source of truth for what a ticket means.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fastflight/fastflight-go/pkg/ferror"
)

// paramTypeKey is the reserved ticket key carrying the parameter tag.
const paramTypeKey = "param_type"

// Params is a self-describing request descriptor. Implementations are plain
// structs with exported, JSON-serializable fields. Validate reports
// requirement, range, length, and enum violations.
type Params interface {
	Validate() error
}

// Tagger overrides the derived tag for a parameter type. Without it the tag
// is the type's canonical qualified name, "<import path>.<TypeName>".
type Tagger interface {
	ParamTag() string
}

// TagFor returns the wire tag for a parameter value.
func TagFor(p Params) string {
	if t, ok := p.(Tagger); ok {
		return t.ParamTag()
	}
	return qualifiedName(reflect.TypeOf(p))
}

func qualifiedName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

// ToBytes serializes p into its canonical ticket form: the struct's public
// fields as a JSON object with the tag injected under "param_type".
func ToBytes(p Params) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, ferror.Wrap(ferror.Serialization, "encoding params", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ferror.Wrap(ferror.Serialization, "params must serialize to a JSON object", err)
	}
	if _, clash := fields[paramTypeKey]; clash {
		return nil, ferror.Newf(ferror.Serialization, "params type %s shadows reserved key %q", TagFor(p), paramTypeKey)
	}
	tag, err := json.Marshal(TagFor(p))
	if err != nil {
		return nil, ferror.Wrap(ferror.Serialization, "encoding tag", err)
	}
	fields[paramTypeKey] = tag
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, ferror.Wrap(ferror.Serialization, "encoding ticket", err)
	}
	return out, nil
}

// FromBytes decodes a ticket back into a registered parameter instance,
// looking the concrete type up by its "param_type" tag in the default
// registry and validating the decoded fields.
func FromBytes(data []byte) (Params, error) {
	return DefaultRegistry().DecodeTicket(data)
}

// DecodeTicket decodes ticket bytes against this registry.
func (r *Registry) DecodeTicket(data []byte) (Params, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, ferror.Wrap(ferror.BadTicket, "ticket is not a JSON object", err)
	}
	rawTag, ok := fields[paramTypeKey]
	if !ok {
		return nil, ferror.Newf(ferror.BadTicket, "ticket is missing %q", paramTypeKey)
	}
	var tag string
	if err := json.Unmarshal(rawTag, &tag); err != nil {
		return nil, ferror.Wrap(ferror.BadTicket, "param_type must be a string", err)
	}
	entry, ok := r.entry(tag)
	if !ok {
		return nil, ferror.Newf(ferror.UnknownParamType, "params type %q is not registered", tag)
	}
	delete(fields, paramTypeKey)
	remainder, err := json.Marshal(fields)
	if err != nil {
		return nil, ferror.Wrap(ferror.BadTicket, "re-encoding ticket fields", err)
	}
	inst := reflect.New(entry.paramType).Interface()
	dec := json.NewDecoder(bytes.NewReader(remainder))
	if err := dec.Decode(inst); err != nil {
		return nil, ferror.Wrap(ferror.InvalidParam, fmt.Sprintf("decoding %s fields", tag), err)
	}
	p, ok := inst.(Params)
	if !ok {
		// Registration checks this; a mismatch here is a registry bug.
		return nil, ferror.Newf(ferror.Internal, "registered type %s does not implement Params", tag)
	}
	if err := p.Validate(); err != nil {
		return nil, ferror.Wrap(ferror.InvalidParam, fmt.Sprintf("invalid %s", tag), err)
	}
	return p, nil
}
