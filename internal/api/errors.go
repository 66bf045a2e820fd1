package api

import (
	"github.com/pulsadash/topup-sender/internal/errors"
)

const (
	InvalidPayload  errors.ErrorCode = "invalid_payload"
	ValidationError errors.ErrorCode = "validation_error"
	BatchNotFound   errors.ErrorCode = "batch_not_found"
	BatchStateError errors.ErrorCode = "batch_state_error"
	SettingsError   errors.ErrorCode = "settings_error"
	InternalError   errors.ErrorCode = "internal_error"
)
