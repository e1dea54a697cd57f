// Package app assembles the client state layer around one backend channel.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lansend/devices"
	"lansend/dispatch"
	"lansend/events"
	"lansend/ipc"
	"lansend/models"
	"lansend/storage"
	"lansend/transfers"
)

// HistoryStore persists transfers, devices and backend errors.
type HistoryStore interface {
	SaveTransfer(transfer models.Transfer) error
	DeleteTransfer(transferID string) error
	ListTransfers(filter storage.TransferFilter) ([]models.Transfer, error)
	PruneTransfers(cutoff time.Time) (int64, error)
	UpsertDevice(device models.Device, seenAt time.Time) error
	RecordBackendEvent(event storage.BackendEvent) error
}

// ErrHistoryDisabled is returned by history queries when no store is configured.
var ErrHistoryDisabled = errors.New("app: history is disabled")

// Options configures an App.
type Options struct {
	Logger           logrus.FieldLogger
	History          HistoryStore
	HistoryRetention time.Duration
	Clock            transfers.TimeProvider
}

// App owns the registry, the ledger and the dispatcher feeding them.
type App struct {
	Devices    *devices.Registry
	Transfers  *transfers.Ledger
	Client     *ipc.Client
	Dispatcher *dispatch.Dispatcher

	channel   *ipc.Channel
	history   HistoryStore
	retention time.Duration
	clock     transfers.TimeProvider
	logger    logrus.FieldLogger

	errors *events.Hub[ipc.ErrorNotice]

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New wires an App over channel. The channel must not have been started.
func New(channel *ipc.Channel, options Options) *App {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := options.Clock
	if clock == nil {
		clock = transfers.DefaultTimeProvider{}
	}

	registry := devices.NewRegistry()
	ledger := transfers.NewLedger(
		transfers.WithTimeProvider(clock),
		transfers.WithLogger(logger),
	)
	dispatcher := dispatch.New(registry, ledger, dispatch.WithLogger(logger))

	return &App{
		Devices:    registry,
		Transfers:  ledger,
		Client:     ipc.NewClient(channel, ipc.WithClientLogger(logger)),
		Dispatcher: dispatcher,
		channel:    channel,
		history:    options.History,
		retention:  options.HistoryRetention,
		clock:      clock,
		logger:     logger,
		errors:     events.NewHub[ipc.ErrorNotice](),
		stop:       make(chan struct{}),
	}
}

// Start routes inbound frames to the dispatcher and begins reading.
func (a *App) Start() {
	a.startOnce.Do(func() {
		a.pruneHistory()

		deviceEvents, cancelDevices := a.Devices.Subscribe(events.DefaultBuffer)
		transferEvents, cancelTransfers := a.Transfers.Subscribe(events.DefaultBuffer)

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer cancelDevices()
			defer cancelTransfers()
			a.recordLoop(deviceEvents, transferEvents)
		}()

		a.channel.OnMessage(a.Dispatcher.HandleFrame)
		a.channel.Start()

		a.logger.WithFields(logrus.Fields{
			"function": "Start",
			"history":  a.history != nil,
		}).Info("Client state layer started")
	})
}

// Stop closes the channel, stops the recorder and ends all change feeds.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		_ = a.channel.Close()
		close(a.stop)
		a.wg.Wait()

		a.flushHistory()
		a.Devices.Close()
		a.Transfers.Close()
		a.errors.Close()
	})
}

// Done is closed when the backend channel closes.
func (a *App) Done() <-chan struct{} {
	return a.channel.Done()
}

// Errors subscribes to unsolicited backend errors.
func (a *App) Errors(buffer int) (<-chan ipc.ErrorNotice, func()) {
	return a.errors.Subscribe(buffer)
}

// DeleteTransfer asks the backend to delete a transfer and, once it agrees,
// clears the local record. The recorder removes the history row when it
// sees the record go, after any saves queued before it.
func (a *App) DeleteTransfer(ctx context.Context, transferID string) error {
	if err := a.Client.DeleteTransfer(ctx, transferID); err != nil {
		return err
	}
	a.Transfers.Forget(transferID)
	return nil
}

// History lists persisted transfers.
func (a *App) History(filter storage.TransferFilter) ([]models.Transfer, error) {
	if a.history == nil {
		return nil, ErrHistoryDisabled
	}
	return a.history.ListTransfers(filter)
}

func (a *App) recordLoop(deviceEvents <-chan devices.Event, transferEvents <-chan transfers.Event) {
	notices := a.Dispatcher.Errors()
	for {
		select {
		case <-a.stop:
			a.drainEvents(deviceEvents, transferEvents)
			return
		case event, ok := <-deviceEvents:
			if !ok {
				deviceEvents = nil
				continue
			}
			a.handleDeviceEvent(event)
		case event, ok := <-transferEvents:
			if !ok {
				transferEvents = nil
				continue
			}
			a.handleTransferEvent(event)
		case notice := <-notices:
			a.errors.Publish(notice)
			a.recordError(notice)
		}
	}
}

// drainEvents handles whatever is already buffered at shutdown.
func (a *App) drainEvents(deviceEvents <-chan devices.Event, transferEvents <-chan transfers.Event) {
	for {
		select {
		case event, ok := <-deviceEvents:
			if !ok {
				deviceEvents = nil
				continue
			}
			a.handleDeviceEvent(event)
		case event, ok := <-transferEvents:
			if !ok {
				transferEvents = nil
				continue
			}
			a.handleTransferEvent(event)
		default:
			return
		}
	}
}

func (a *App) handleDeviceEvent(event devices.Event) {
	if event.Type == devices.EventDeviceUpserted {
		a.recordDevice(event.Device)
	}
}

func (a *App) handleTransferEvent(event transfers.Event) {
	if event.Type == transfers.EventTransferForgotten {
		a.forgetTransfer(event.Transfer.ID)
		return
	}
	a.recordTransfer(event.Transfer)
}

func (a *App) recordDevice(device models.Device) {
	if a.history == nil {
		return
	}
	if err := a.history.UpsertDevice(device, a.clock.Now()); err != nil {
		a.logger.WithFields(logrus.Fields{
			"function":  "recordDevice",
			"device_id": device.DeviceID,
			"error":     err.Error(),
		}).Warn("Failed to persist device")
	}
}

func (a *App) recordTransfer(transfer models.Transfer) {
	if a.history == nil {
		return
	}
	if err := a.history.SaveTransfer(transfer); err != nil {
		a.logger.WithFields(logrus.Fields{
			"function":    "recordTransfer",
			"transfer_id": transfer.ID,
			"error":       err.Error(),
		}).Warn("Failed to persist transfer")
	}
}

func (a *App) forgetTransfer(transferID string) {
	if a.history == nil {
		return
	}
	if err := a.history.DeleteTransfer(transferID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		a.logger.WithFields(logrus.Fields{
			"function":    "forgetTransfer",
			"transfer_id": transferID,
			"error":       err.Error(),
		}).Warn("Failed to delete transfer history")
	}
}

func (a *App) recordError(notice ipc.ErrorNotice) {
	if a.history == nil {
		return
	}
	event := storage.BackendEvent{
		Kind:      storage.BackendEventError,
		Message:   notice.Message,
		Timestamp: a.clock.Now().UnixMilli(),
	}
	if notice.DeviceID != "" {
		deviceID := notice.DeviceID
		event.DeviceID = &deviceID
	}
	if notice.TransferID != "" {
		transferID := notice.TransferID
		event.TransferID = &transferID
	}
	if err := a.history.RecordBackendEvent(event); err != nil {
		a.logger.WithFields(logrus.Fields{
			"function": "recordError",
			"error":    err.Error(),
		}).Warn("Failed to persist backend error")
	}
}

// flushHistory saves every ledger record once more, covering events the
// recorder missed while its feed was full.
func (a *App) flushHistory() {
	if a.history == nil {
		return
	}
	for _, transfer := range a.Transfers.List() {
		a.recordTransfer(transfer)
	}
}

func (a *App) pruneHistory() {
	if a.history == nil || a.retention <= 0 {
		return
	}
	removed, err := a.history.PruneTransfers(a.clock.Now().Add(-a.retention))
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"function": "pruneHistory",
			"error":    err.Error(),
		}).Warn("Failed to prune transfer history")
		return
	}
	if removed > 0 {
		a.logger.WithFields(logrus.Fields{
			"function": "pruneHistory",
			"removed":  removed,
		}).Info("Pruned transfer history")
	}
}
