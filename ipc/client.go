package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lansend/models"
)

// TransferStatusReport is the backend's view of one transfer.
type TransferStatusReport struct {
	TransferID string                `json:"transfer_id"`
	Status     models.TransferStatus `json:"status"`
	Progress   float64               `json:"progress"`
	Speed      float64               `json:"speed"`
	ETASeconds float64               `json:"eta_seconds"`
}

// SendResult is returned by SendFiles.
type SendResult struct {
	TransferID string `json:"transfer_id,omitempty"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client issues typed requests to the backend. Each call is one round trip:
// no retries and no client-side timeout.
type Client struct {
	transport Transport
	now       func() time.Time
	logger    logrus.FieldLogger
}

// NewClient creates a client over transport.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send builds an envelope from msgType and payload, waits for the response
// and returns its data. Every failure is a *BackendError.
func (c *Client) Send(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	if c == nil || c.transport == nil {
		return nil, transportFailure(msgType, ErrNoTransport)
	}

	env, err := NewEnvelope(msgType, payload, c.now())
	if err != nil {
		return nil, transportFailure(msgType, err)
	}

	resp, err := c.transport.Send(ctx, env)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"function": "Send",
			"type":     msgType,
			"error":    err.Error(),
		}).Warn("Backend request failed")
		return nil, transportFailure(msgType, err)
	}
	if !resp.Success {
		c.logger.WithFields(logrus.Fields{
			"function": "Send",
			"type":     msgType,
			"error":    resp.Error,
		}).Debug("Backend rejected request")
		return nil, backendFailure(msgType, resp.Error)
	}
	return resp.Data, nil
}

// ScanDevices asks the backend to scan the LAN and returns the devices it
// reports. The registry is not modified.
func (c *Client) ScanDevices(ctx context.Context) ([]models.Device, error) {
	var result struct {
		Devices []models.Device `json:"devices"`
	}
	if err := c.call(ctx, TypeScanDevices, nil, &result); err != nil {
		return nil, err
	}
	return result.Devices, nil
}

// SendFiles offers files to one or more devices.
func (c *Client) SendFiles(ctx context.Context, targetDeviceIDs []string, files []string) (SendResult, error) {
	payload := struct {
		TargetDevices []string `json:"target_devices"`
		Files         []string `json:"files"`
	}{TargetDevices: targetDeviceIDs, Files: files}

	var result SendResult
	if err := c.call(ctx, TypeSendRequest, payload, &result); err != nil {
		return SendResult{}, err
	}
	return result, nil
}

// ConnectToDevice pairs with a device using its auth code.
func (c *Client) ConnectToDevice(ctx context.Context, deviceID, authCode string) error {
	payload := struct {
		DeviceID string `json:"device_id"`
		AuthCode string `json:"auth_code"`
	}{DeviceID: deviceID, AuthCode: authCode}
	return c.call(ctx, TypeConnectToDevice, payload, nil)
}

// AcceptTransfer accepts an incoming transfer.
func (c *Client) AcceptTransfer(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeAcceptTransfer, transferID)
}

// RejectTransfer rejects an incoming transfer.
func (c *Client) RejectTransfer(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeRejectTransfer, transferID)
}

// CancelTransfer cancels a transfer in either direction.
func (c *Client) CancelTransfer(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeCancelTransfer, transferID)
}

// CancelSend cancels an outgoing transfer.
func (c *Client) CancelSend(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeCancelSend, transferID)
}

// CancelWaitForConfirmation withdraws an outgoing offer the receiver has not
// answered yet.
func (c *Client) CancelWaitForConfirmation(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeCancelWaitForConfirmation, transferID)
}

// RespondToReceiveRequest answers an incoming offer. acceptedFiles narrows
// the accepted set; nil accepts every offered file.
func (c *Client) RespondToReceiveRequest(ctx context.Context, transferID string, accept bool, acceptedFiles []string) error {
	payload := struct {
		TransferID    string   `json:"transfer_id"`
		Accept        bool     `json:"accept"`
		AcceptedFiles []string `json:"accepted_files,omitempty"`
	}{TransferID: transferID, Accept: accept, AcceptedFiles: acceptedFiles}
	return c.call(ctx, TypeRespondToReceiveRequest, payload, nil)
}

// CancelReceive cancels an incoming transfer.
func (c *Client) CancelReceive(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeCancelReceive, transferID)
}

// GetTransferStatus queries one transfer.
func (c *Client) GetTransferStatus(ctx context.Context, transferID string) (TransferStatusReport, error) {
	var report TransferStatusReport
	if err := c.call(ctx, TypeGetTransferStatus, transferPayload{TransferID: transferID}, &report); err != nil {
		return TransferStatusReport{}, err
	}
	return report, nil
}

// GetActiveTransfers lists transfers the backend considers active.
func (c *Client) GetActiveTransfers(ctx context.Context) ([]TransferStatusReport, error) {
	var result struct {
		Transfers []TransferStatusReport `json:"transfers"`
	}
	if err := c.call(ctx, TypeGetActiveTransfers, nil, &result); err != nil {
		return nil, err
	}
	return result.Transfers, nil
}

// UpdateSettings changes backend settings and returns the keys it updated.
func (c *Client) UpdateSettings(ctx context.Context, settings models.Settings) ([]string, error) {
	payload := struct {
		Settings models.Settings `json:"settings"`
	}{Settings: settings}

	var result struct {
		Updated []string `json:"updated"`
	}
	if err := c.call(ctx, TypeUpdateSettings, payload, &result); err != nil {
		return nil, err
	}
	return result.Updated, nil
}

// Exit asks the backend to shut down.
func (c *Client) Exit(ctx context.Context) error {
	return c.call(ctx, TypeExit, nil, nil)
}

// OpenFileLocation asks the backend to reveal path in the system file manager.
func (c *Client) OpenFileLocation(ctx context.Context, path string) error {
	payload := struct {
		Path string `json:"path"`
	}{Path: path}
	return c.call(ctx, TypeOpenFileLocation, payload, nil)
}

// DeleteTransfer asks the backend to delete a transfer record.
func (c *Client) DeleteTransfer(ctx context.Context, transferID string) error {
	return c.transferCall(ctx, TypeDeleteTransfer, transferID)
}

type transferPayload struct {
	TransferID string `json:"transfer_id"`
}

func (c *Client) transferCall(ctx context.Context, msgType, transferID string) error {
	return c.call(ctx, msgType, transferPayload{TransferID: transferID}, nil)
}

func (c *Client) call(ctx context.Context, msgType string, payload any, out any) error {
	data, err := c.Send(ctx, msgType, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return transportFailure(msgType, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return nil
}
