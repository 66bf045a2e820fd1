package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsadash/topup-sender/internal/settings"
	"github.com/pulsadash/topup-sender/internal/types"
)

type Config struct {
	// Endpoint used when the settings store doesn't carry one.
	Endpoint string
	// RequestTimeout bounds one provider call; a hung upstream request
	// otherwise stalls the whole sequential batch.
	RequestTimeout time.Duration
	AuditTimeout   time.Duration
}

// CredentialsSource supplies the signing credentials per request.
type CredentialsSource interface {
	Credentials(ctx context.Context) (settings.Credentials, error)
}

// AuditSink records outbound request/response pairs.
type AuditSink interface {
	InsertAuditLog(ctx context.Context, entry types.AuditLog) error
}

// Request is the provider's transaction payload.
type Request struct {
	Username   string `json:"username"`
	Code       string `json:"code"`
	CustomerNo string `json:"customer_no"`
	RefID      string `json:"ref_id"`
	Sign       string `json:"sign"`
}

type responseBody struct {
	Data responseData `json:"data"`
}

type responseData struct {
	RefID   string `json:"ref_id"`
	Status  string `json:"status"`
	RC      string `json:"rc"`
	SN      string `json:"sn"`
	Message string `json:"message"`
}

// Outcome is the classified result of one provider call. Transport and
// parse failures fold into a failed Outcome; Send never surfaces them as
// errors, so the runner needs no recovery logic around individual sends.
type Outcome struct {
	Success      bool
	Status       string
	RC           string
	SN           string
	Message      string
	StatusCode   *int
	ResponseData json.RawMessage
	Raw          []byte
	Error        string
	ResponseTime time.Duration
}

type Client struct {
	config *Config
	http   *http.Client
	creds  CredentialsSource
	audit  AuditSink
	log    *slog.Logger
}

func NewClient(config *Config, creds CredentialsSource, audit AuditSink) *Client {
	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.RequestTimeout,
		},
		creds: creds,
		audit: audit,
		log:   slog.With("component", "gateway"),
	}
}

// Send dispatches one transaction to the provider and classifies the
// response. It returns an error only when the request could not be
// constructed (missing credentials); the caller folds that into a failed
// result for the item. Everything past construction is reported through
// the Outcome.
func (c *Client) Send(ctx context.Context, productCode, customerNo, refID string) (
	Outcome, error) {

	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return Outcome{}, err
	}

	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = c.config.Endpoint
	}

	request := Request{
		Username:   creds.Username,
		Code:       productCode,
		CustomerNo: customerNo,
		RefID:      refID,
		Sign:       Sign(creds.Username, creds.APIKey, refID),
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return Outcome{}, fmt.Errorf("couldn't marshal request: %w", err)
	}

	started := time.Now()
	outcome := c.post(ctx, endpoint, payload)
	outcome.ResponseTime = time.Since(started)

	c.writeAudit(refID, endpoint, payload, outcome)

	return outcome, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewReader(payload))
	if err != nil {
		return failedOutcome(fmt.Sprintf("couldn't build request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("provider request failed", "error", err)
		return failedOutcome(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failedOutcome(fmt.Sprintf("couldn't read response: %v", err))
	}

	statusCode := resp.StatusCode

	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		outcome := failedOutcome(fmt.Sprintf("non-JSON response: %v", err))
		outcome.StatusCode = &statusCode
		outcome.Raw = body
		return outcome
	}

	outcome := classify(statusCode, parsed.Data)
	outcome.StatusCode = &statusCode
	outcome.Raw = body

	if data, err := json.Marshal(parsed.Data); err == nil {
		outcome.ResponseData = data
	}

	return outcome
}

// classify applies the provider's status/rc convention: rc "03" or a
// Pending status is an intermediate state that a later callback resolves;
// rc "00" or status "Sukses" on HTTP 200 is success; anything else failed.
func classify(statusCode int, data responseData) Outcome {
	outcome := Outcome{
		Status:  data.Status,
		RC:      data.RC,
		SN:      data.SN,
		Message: data.Message,
	}

	if data.Status == "Pending" || data.Status == "pending" || data.RC == "03" {
		outcome.Success = false
		outcome.Status = types.StatusPending
		return outcome
	}

	if statusCode == http.StatusOK &&
		(data.Status == types.StatusSukses || data.RC == "00") {
		outcome.Success = true
		outcome.Status = types.StatusSukses
		return outcome
	}

	outcome.Success = false
	if outcome.Status == "" {
		outcome.Status = types.StatusGagal
	}
	if data.Message != "" {
		outcome.Error = data.Message
	} else {
		outcome.Error = fmt.Sprintf("provider returned HTTP %d", statusCode)
	}

	return outcome
}

func failedOutcome(message string) Outcome {
	return Outcome{
		Success: false,
		Status:  types.StatusGagal,
		Error:   message,
	}
}

// writeAudit records the request/response pair without blocking or failing
// the transaction.
func (c *Client) writeAudit(refID, endpoint string, request []byte, outcome Outcome) {
	if c.audit == nil {
		return
	}

	entry := types.AuditLog{
		RefID:      refID,
		Endpoint:   endpoint,
		Request:    request,
		Response:   outcome.Raw,
		StatusCode: outcome.StatusCode,
		CreatedAt:  time.Now(),
	}

	if outcome.Error != "" {
		errMsg := outcome.Error
		entry.Error = &errMsg
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.AuditTimeout)
		defer cancel()

		if err := c.audit.InsertAuditLog(ctx, entry); err != nil {
			c.log.Error("couldn't write audit log", "ref_id", refID, "error", err)
		}
	}()
}
