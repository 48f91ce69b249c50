package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StatusCode is the parsed form of a header status such as "200 OK".
type StatusCode struct {
	Code    int
	Message string
}

// ParseStatusCode parses "<code> <text>". The text part is optional.
func ParseStatusCode(s string) (StatusCode, error) {
	s = strings.TrimSpace(s)
	codePart, text, _ := strings.Cut(s, " ")
	code, err := strconv.Atoi(codePart)
	if err != nil {
		return StatusCode{}, fmt.Errorf("invalid status code %q", s)
	}
	return StatusCode{Code: code, Message: strings.TrimSpace(text)}, nil
}

// IsSuccessful reports a 2xx status.
func (s StatusCode) IsSuccessful() bool {
	return s.Code >= 200 && s.Code < 300
}

func (s StatusCode) String() string {
	if s.Message == "" {
		return strconv.Itoa(s.Code)
	}
	return strconv.Itoa(s.Code) + " " + s.Message
}

// MarshalJSON writes the wire form "<code> <text>".
func (s StatusCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the wire form "<code> <text>".
func (s *StatusCode) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status code must be a string: %w", err)
	}
	parsed, err := ParseStatusCode(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
