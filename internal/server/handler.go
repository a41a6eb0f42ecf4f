// Package server runs the scan and map screens over WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-ecoscan/internal/report"
	"github.com/oszuidwest/zwfm-ecoscan/internal/types"
)

// Sender delivers one message to the client. It reports false once the
// connection is gone.
type Sender func(msg any) bool

// DecodeAndValidate decodes JSON and validates the struct.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](cmd WSCommand, send Sender, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd.Type, fmt.Errorf("%w: invalid JSON: %w", types.ErrValidationFailure, err))
			return false
		}
	}

	if err := report.Validate(data); err != nil {
		SendValidationErrors(send, cmd.Type, err)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command with automatic response handling.
// The process function returns the result data or an error.
func HandleCommand[T any](cmd WSCommand, send Sender, process func(*T) (any, error)) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	result, err := process(&data)
	if err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, result)
}

// --- Response helpers ---

// SendSuccess sends a success response for a command.
func SendSuccess(send Sender, cmdType string, data any) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: true,
		Data:    data,
	})
}

// SendError sends an error response for a command. Validation errors keep
// their field list.
func SendError(send Sender, cmdType string, err error) {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		SendValidationErrors(send, cmdType, verr)
		return
	}
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Error:   err.Error(),
		Code:    types.ErrorCode(err),
	})
}

// SendValidationErrors sends field errors for a command.
func SendValidationErrors(send Sender, cmdType string, err error) {
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		verr = types.NewValidationError()
		verr.Add("", err.Error(), nil)
	}

	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Error:   verr,
		Code:    types.ErrorCode(types.ErrValidationFailure),
	})
}

// trySend sends a message, logging when the connection is already gone.
func trySend(send Sender, cmdType string, msg any) {
	if !send(msg) {
		slog.Debug("dropped response: connection closed", "type", cmdType)
	}
}
