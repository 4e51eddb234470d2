package toolcfg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// RequestSchema is the JSON-Schema-like tree describing a tool's request
// body. A field carrying ConstantValue is baked in by the operator and never
// exposed to the calling model; fields without it are model-filled at call
// time and must carry a description.
type RequestSchema struct {
	Type          string                    `json:"type"`
	Description   string                    `json:"description,omitempty"`
	ConstantValue string                    `json:"constant_value,omitempty"`
	Properties    map[string]*RequestSchema `json:"properties,omitempty"`
	Items         *RequestSchema            `json:"items,omitempty"`
	Required      []string                  `json:"required,omitempty"`
}

// Clone returns a deep copy of the schema tree.
func (s *RequestSchema) Clone() *RequestSchema {
	if s == nil {
		return nil
	}
	out := &RequestSchema{
		Type:          s.Type,
		Description:   s.Description,
		ConstantValue: s.ConstantValue,
		Items:         s.Items.Clone(),
	}
	if s.Required != nil {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*RequestSchema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.Clone()
		}
	}
	return out
}

// Booking endpoint paths appended to the configured webhook base URL.
const (
	ghlBookingPath    = "/ghl/book/"
	calComBookingPath = "/calcom/book/"
)

func bookingEndpoint(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

// SynthesizeGhlSchema builds the full api_schema for the GoHighLevel booking
// tool: three constant-valued credential fields plus the five model-filled
// booking fields. GHL expects ISO-8601 times in offset form; this differs
// from Cal.com's UTC form because each mirrors its provider's native API.
func SynthesizeGhlSchema(apiKey, calendarID, locationID, webhookBaseURL string) APISchema {
	return APISchema{
		URL:    bookingEndpoint(webhookBaseURL, ghlBookingPath),
		Method: http.MethodPost,
		RequestBodySchema: &RequestSchema{
			Type:        "object",
			Description: "Booking request forwarded to GoHighLevel",
			Properties: map[string]*RequestSchema{
				"apiKey":     {Type: "string", ConstantValue: apiKey},
				"calendarId": {Type: "string", ConstantValue: calendarID},
				"locationId": {Type: "string", ConstantValue: locationID},
				"startTime": {
					Type:        "string",
					Description: "Start time of the booking in ISO-8601 format with timezone offset, e.g. 2021-06-23T03:30:00+05:30",
				},
				"endTime": {
					Type:        "string",
					Description: "End time of the booking in ISO-8601 format with timezone offset, e.g. 2021-06-23T04:30:00+05:30",
				},
				"title": {
					Type:        "string",
					Description: "Title of the booking",
				},
				"timezone": {
					Type:        "string",
					Description: "IANA timezone name for the booking, e.g. America/New_York",
				},
				"contactInfo": {
					Type:        "object",
					Description: "Contact details of the person the booking is for",
					Properties: map[string]*RequestSchema{
						"phone":     {Type: "string", Description: "Phone number including country code, e.g. +15551234567"},
						"firstName": {Type: "string", Description: "First name of the contact"},
						"lastName":  {Type: "string", Description: "Last name of the contact"},
						"email":     {Type: "string", Description: "Email address of the contact"},
					},
					Required: []string{"phone"},
				},
			},
			Required: []string{"startTime", "endTime", "title", "timezone", "contactInfo"},
		},
	}
}

// SynthesizeCalComSchema builds the full api_schema for the Cal.com booking
// tool: one constant-valued credential plus model-filled start/end times in
// UTC ISO-8601 (Z suffix) and a nested attendee object.
func SynthesizeCalComSchema(apiKey, webhookBaseURL string) APISchema {
	return APISchema{
		URL:    bookingEndpoint(webhookBaseURL, calComBookingPath),
		Method: http.MethodPost,
		RequestBodySchema: &RequestSchema{
			Type:        "object",
			Description: "Booking request forwarded to Cal.com",
			Properties: map[string]*RequestSchema{
				"apiKey": {Type: "string", ConstantValue: apiKey},
				"start": {
					Type:        "string",
					Description: "Start time of the booking in UTC ISO-8601 format, e.g. 2024-08-13T09:00:00Z",
				},
				"end": {
					Type:        "string",
					Description: "End time of the booking in UTC ISO-8601 format, e.g. 2024-08-13T10:00:00Z",
				},
				"attendee": {
					Type:        "object",
					Description: "Details of the person attending the booking",
					Properties: map[string]*RequestSchema{
						"name":     {Type: "string", Description: "Full name of the attendee"},
						"email":    {Type: "string", Description: "Email address of the attendee"},
						"timeZone": {Type: "string", Description: "IANA timezone name of the attendee, e.g. America/New_York"},
					},
					Required: []string{"name", "email", "timeZone"},
				},
			},
			Required: []string{"start", "end", "attendee"},
		},
	}
}

// MergeConstantValue updates the constant_value of one named field in place
// without disturbing sibling fields. Used when editing credentials on an
// already-created booking tool so model-filled descriptions survive. The
// field path is dotted for nested properties, e.g. "contactInfo.phone".
func MergeConstantValue(schema *RequestSchema, fieldPath, value string) error {
	if schema == nil {
		return fmt.Errorf("toolcfg: merge into nil schema")
	}
	node := schema
	for _, part := range strings.Split(fieldPath, ".") {
		child, ok := node.Properties[part]
		if !ok || child == nil {
			return fmt.Errorf("toolcfg: schema field %q not found", fieldPath)
		}
		node = child
	}
	node.ConstantValue = value
	return nil
}

// ConstantValue reads the constant_value of a top-level schema field,
// returning the empty string when the field is absent. Used to reverse-
// extract booking credentials from a fetched document.
func ConstantValue(schema *RequestSchema, field string) string {
	if schema == nil {
		return ""
	}
	prop, ok := schema.Properties[field]
	if !ok || prop == nil {
		return ""
	}
	return prop.ConstantValue
}

// ParseOperatorSchema parses raw operator-supplied JSON into a RequestSchema.
// The text must round-trip through a structural parse before acceptance.
func ParseOperatorSchema(jsonText string) (*RequestSchema, error) {
	trimmed := strings.TrimSpace(jsonText)
	if trimmed == "" {
		return nil, fmt.Errorf("toolcfg: schema text is empty")
	}
	var schema RequestSchema
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	if err := decoder.Decode(&schema); err != nil {
		return nil, fmt.Errorf("toolcfg: parse schema: %w", err)
	}
	return &schema, nil
}

// SampleOperatorSchema returns the example schema the console offers for
// webhook tools, demonstrating nested objects, arrays, and required fields.
func SampleOperatorSchema() *RequestSchema {
	return &RequestSchema{
		Type:        "object",
		Description: "Type of parameters from the transcript",
		Properties: map[string]*RequestSchema{
			"new_time": {Type: "string", Description: "The new time"},
			"new_date": {Type: "string", Description: "The new booking date"},
			"Laptop": {
				Type:        "object",
				Description: "Brand of the laptop",
				Properties: map[string]*RequestSchema{
					"Screen_size":      {Type: "string", Description: "Size of the screen"},
					"operating_system": {Type: "string", Description: "Version of the OS"},
				},
				Required: []string{"Screen_size", "operating_system"},
			},
			"country_user": {
				Type:        "array",
				Description: "User's interests",
				Items:       &RequestSchema{Type: "string", Description: "Interests"},
			},
		},
		Required: []string{"new_time", "Laptop", "new_date", "country_user"},
	}
}
