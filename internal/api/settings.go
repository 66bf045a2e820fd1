package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pulsadash/topup-sender/internal/errors"
	"github.com/pulsadash/topup-sender/internal/settings"
)

type settingsView struct {
	Username     string  `json:"username"`
	APIKeySet    bool    `json:"api_key_set"`
	Endpoint     string  `json:"endpoint"`
	DelaySeconds float64 `json:"delay_seconds"`
}

// GetSettingsHandler returns the dashboard settings with the API key
// masked down to a presence flag.
func (s *Server) GetSettingsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	current, err := s.settings.Get(r.Context())
	if err != nil {
		return nil, errors.ServiceError{
			Code:    SettingsError,
			Message: "couldn't load settings",
			Err:     err,
		}
	}

	return settingsView{
		Username:     current.Username,
		APIKeySet:    current.APIKey != "",
		Endpoint:     current.Endpoint,
		DelaySeconds: current.DelaySeconds,
	}, nil
}

type updateSettingsRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

var settableFields = map[string]struct{}{
	settings.FieldUsername:     {},
	settings.FieldAPIKey:       {},
	settings.FieldEndpoint:     {},
	settings.FieldDelaySeconds: {},
}

// UpdateSettingsHandler writes one settings field. The settings store
// invalidates its cache on write, so the next dispatched item already uses
// the new value.
func (s *Server) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	var request updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return nil, errors.ServiceError{
			Code:    InvalidPayload,
			Message: "request unmarshalling error",
			Err:     err,
		}
	}
	defer r.Body.Close()

	field := strings.TrimSpace(request.Field)
	if _, ok := settableFields[field]; !ok {
		return nil, errors.ServiceError{
			Code:    SettingsError,
			Message: "unknown settings field: " + field,
		}
	}

	err := s.settings.Set(r.Context(), field, strings.TrimSpace(request.Value))
	if err != nil {
		return nil, errors.ServiceError{
			Code:    SettingsError,
			Message: "couldn't store setting",
			Err:     err,
		}
	}

	s.log.Info("Setting updated", "field", field)
	return "ok", nil
}
