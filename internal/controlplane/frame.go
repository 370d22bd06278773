package controlplane

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/termlink/internal/remote"
)

// Handshake headers
const (
	HeaderCookie          = "X-Termlink-Cookie"
	HeaderKey             = "X-Termlink-Key"
	HeaderLibraryVersion  = "X-Termlink-Library-Version"
	HeaderProtocolVersion = "X-Termlink-Protocol-Version"

	Subprotocol = "termlink.v1"
)

// LibraryVersion is sent with every handshake so the control plane can
// refuse clients it cannot serve
var LibraryVersion = remote.Version{Major: 1, Minor: 0}

// Methods understood by the control plane
const (
	MethodLayout           = "list_sessions"
	MethodDefaultProfile   = "default_profile"
	MethodProfile          = "get_profile"
	MethodCreateWindow     = "create_window"
	MethodCreateTab        = "create_tab"
	MethodActivate         = "activate"
	MethodGetVariable      = "get_variable"
	MethodSetVariable      = "set_variable"
	MethodSetTabTitle      = "set_tab_title"
	MethodSetSessionName   = "set_session_name"
	MethodBufferInfo       = "buffer_info"
	MethodReadLines        = "read_lines"
	MethodSendText         = "send_text"
	MethodLastPrompt       = "last_prompt"
	MethodPrompt           = "get_prompt"
	MethodSubscribePrompts = "subscribe_prompts"
	MethodUnsubscribe      = "unsubscribe"
)

var codec = sonic.ConfigStd

// Frame is the single JSON envelope used in both directions. Requests carry
// ID+Method+Params, responses ID+Result or ID+Error, notifications
// Subscription+Event.
type Frame struct {
	ID           string          `json:"id,omitempty"`
	Method       string          `json:"method,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *WireError      `json:"error,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// WireError is the error member of a response frame
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsResponse reports whether the frame answers a request
func (f *Frame) IsResponse() bool { return f.ID != "" && f.Method == "" }

// IsNotification reports whether the frame is a subscription event
func (f *Frame) IsNotification() bool { return f.Subscription != "" && f.ID == "" }

func encodeFrame(f *Frame) ([]byte, error) {
	return codec.Marshal(f)
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

func marshalRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func unmarshalRaw(raw json.RawMessage, v any) error {
	if len(raw) == 0 || v == nil {
		return nil
	}
	return codec.Unmarshal(raw, v)
}

// ParseVersion reads a "major.minor" header value. Anything else yields 0.0.
func ParseVersion(s string) remote.Version {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return remote.Version{}
	}
	ma, err1 := strconv.Atoi(major)
	mi, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil || ma < 0 || mi < 0 {
		return remote.Version{}
	}
	return remote.Version{Major: ma, Minor: mi}
}

// Parameter and result shapes

type sessionParams struct {
	SessionID string `json:"session_id"`
}

type profileParams struct {
	Name string `json:"name"`
}

type createWindowParams struct {
	Profile string `json:"profile,omitempty"`
}

type createTabParams struct {
	WindowID string `json:"window_id"`
	Profile  string `json:"profile,omitempty"`
}

type activateParams struct {
	SessionID        string `json:"session_id"`
	SelectTab        bool   `json:"select_tab"`
	OrderWindowFront bool   `json:"order_window_front"`
}

type variableParams struct {
	Scope remote.Scope `json:"scope"`
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Value string       `json:"value,omitempty"`
}

type variableResult struct {
	Value string `json:"value"`
}

type titleParams struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type readLinesParams struct {
	SessionID string `json:"session_id"`
	FirstLine int64  `json:"first_line"`
	Count     int    `json:"count"`
}

type readLinesResult struct {
	Lines []remote.Line `json:"lines"`
}

type sendTextParams struct {
	SessionID         string `json:"session_id"`
	Text              string `json:"text"`
	SuppressBroadcast bool   `json:"suppress_broadcast"`
}

type promptParams struct {
	SessionID string `json:"session_id"`
	PromptID  string `json:"prompt_id,omitempty"`
}

type promptResult struct {
	Prompt *remote.Prompt `json:"prompt"`
}

type subscribeParams struct {
	SessionID    string `json:"session_id"`
	Subscription string `json:"subscription"`
}

type unsubscribeParams struct {
	Subscription string `json:"subscription"`
}
