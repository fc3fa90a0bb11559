package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var (
	ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
	ErrBadCallbackData     = errors.New("tgui: malformed callback_data")
)

// Data formats callback data as "scope:action" or "scope:action:payload".
func Data(scope, action, payload string) (string, error) {
	s := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits data built by Data. The payload may itself contain colons.
func ParseData(data string) (scope, action, payload string, err error) {
	scope, rest, ok := strings.Cut(strings.TrimSpace(data), ":")
	if !ok || scope == "" || rest == "" {
		return "", "", "", ErrBadCallbackData
	}
	action, payload, _ = strings.Cut(rest, ":")
	if action == "" {
		return "", "", "", ErrBadCallbackData
	}
	return scope, action, payload, nil
}
