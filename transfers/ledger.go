// Package transfers tracks the lifecycle of backend transfers as reported by
// push notifications.
package transfers

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lansend/events"
	"lansend/models"
)

// ActiveWindow is how long a completed transfer stays in the active view.
const ActiveWindow = 60 * time.Second

const (
	// EventTransferCreated is emitted when a transfer_request adds a record.
	EventTransferCreated EventType = "transfer_created"
	// EventTransferUpdated is emitted after a transfer_update is applied.
	EventTransferUpdated EventType = "transfer_updated"
	// EventTransferForgotten is emitted when a caller clears a record.
	EventTransferForgotten EventType = "transfer_forgotten"
)

// EventType identifies ledger changes.
type EventType string

// Event carries a snapshot of the affected transfer.
type Event struct {
	Type     EventType
	Transfer models.Transfer
}

// TimeProvider abstracts the clock so window and stamping logic can be tested.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// CreateRequest holds the fields of a transfer_request notification.
type CreateRequest struct {
	ID           string
	SourceDevice string
	TargetDevice string
	Files        []models.FileEntry
	TotalSize    int64
}

// Update holds the optional fields of a transfer_update notification.
type Update struct {
	ID              string
	Status          *models.TransferStatus
	TransferredSize *int64
	Error           *string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTimeProvider overrides the ledger clock.
func WithTimeProvider(tp TimeProvider) Option {
	return func(l *Ledger) {
		if tp != nil {
			l.clock = tp
		}
	}
}

// WithLogger sets the logger used for dropped or ignored notifications.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Ledger owns transfer records keyed by id, in creation order. It accepts
// whatever status the backend declares and does not validate transitions.
type Ledger struct {
	mu      sync.RWMutex
	order   []string
	records map[string]models.Transfer

	clock  TimeProvider
	logger logrus.FieldLogger
	events *events.Hub[Event]
}

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		records: make(map[string]models.Transfer),
		clock:   DefaultTimeProvider{},
		logger:  logrus.StandardLogger(),
		events:  events.NewHub[Event](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewTransfer builds the initial pending record for req. A zero TotalSize
// is replaced by the sum of the file sizes, so a request that omits
// total_size still reports progress against its files.
func NewTransfer(req CreateRequest, now time.Time) models.Transfer {
	total := req.TotalSize
	if total == 0 {
		total = models.SumFileSizes(req.Files)
	}
	return models.Transfer{
		ID:           req.ID,
		SourceDevice: req.SourceDevice,
		TargetDevice: req.TargetDevice,
		Files:        append([]models.FileEntry(nil), req.Files...),
		TotalSize:    total,
		Status:       models.TransferPending,
		Progress:     0,
		StartTime:    now,
	}
}

// ComputeProgress returns transferred/total as a percentage in [0, 100].
// A zero total yields 0. total is the record's TotalSize, which NewTransfer
// may have derived from the files.
func ComputeProgress(transferred, total int64) float64 {
	if total <= 0 || transferred <= 0 {
		return 0
	}
	progress := float64(transferred) / float64(total) * 100
	if progress > 100 {
		return 100
	}
	return progress
}

// Apply returns transfer with update applied at time now. Unknown status
// values are ignored. EndTime is stamped on the first terminal status only.
func Apply(transfer models.Transfer, update Update, now time.Time) models.Transfer {
	out := transfer.Clone()
	if update.Status != nil && update.Status.Valid() {
		out.Status = *update.Status
	}
	if update.TransferredSize != nil {
		out.Progress = ComputeProgress(*update.TransferredSize, out.TotalSize)
	}
	if update.Error != nil {
		out.Error = *update.Error
	}
	if out.Status.Terminal() && out.EndTime == nil {
		end := now
		out.EndTime = &end
	}
	return out
}

// Create adds a pending record. A request for an id that already exists is
// ignored and Create returns false.
func (l *Ledger) Create(req CreateRequest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[req.ID]; exists {
		l.logger.WithFields(logrus.Fields{
			"function":    "Create",
			"transfer_id": req.ID,
		}).Warn("Ignoring duplicate transfer request")
		return false
	}

	transfer := NewTransfer(req, l.clock.Now())
	l.records[req.ID] = transfer
	l.order = append(l.order, req.ID)
	l.events.Publish(Event{Type: EventTransferCreated, Transfer: transfer.Clone()})
	return true
}

// Update applies u to an existing record. Updates for unknown ids are
// dropped and Update returns false.
func (l *Ledger) Update(u Update) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.records[u.ID]
	if !ok {
		l.logger.WithFields(logrus.Fields{
			"function":    "Update",
			"transfer_id": u.ID,
		}).Debug("Dropping update for unknown transfer")
		return false
	}
	if u.Status != nil && !u.Status.Valid() {
		l.logger.WithFields(logrus.Fields{
			"function":    "Update",
			"transfer_id": u.ID,
			"status":      string(*u.Status),
		}).Warn("Ignoring unrecognized transfer status")
	}

	next := Apply(current, u, l.clock.Now())
	l.records[u.ID] = next
	l.events.Publish(Event{Type: EventTransferUpdated, Transfer: next.Clone()})
	return true
}

// Forget removes a record, typically after the backend deleted it.
func (l *Ledger) Forget(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	transfer, ok := l.records[id]
	if !ok {
		return false
	}
	delete(l.records, id)
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	l.events.Publish(Event{Type: EventTransferForgotten, Transfer: transfer.Clone()})
	return true
}

// Get returns a copy of the record for id.
func (l *Ledger) Get(id string) (models.Transfer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	transfer, ok := l.records[id]
	if !ok {
		return models.Transfer{}, false
	}
	return transfer.Clone(), true
}

// List returns all records in creation order.
func (l *Ledger) List() []models.Transfer {
	return l.filter(func(models.Transfer) bool { return true })
}

// Pending returns records awaiting acceptance.
func (l *Ledger) Pending() []models.Transfer {
	return l.filter(func(t models.Transfer) bool {
		return t.Status == models.TransferPending
	})
}

// Active returns in-progress records plus those completed within ActiveWindow.
func (l *Ledger) Active() []models.Transfer {
	return l.filter(l.isActive)
}

// HasActive reports whether any transfer is pending or in progress.
func (l *Ledger) HasActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, transfer := range l.records {
		if transfer.Status == models.TransferPending || transfer.Status == models.TransferInProgress {
			return true
		}
	}
	return false
}

// Subscribe returns a change feed. Call cancel to release it.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	return l.events.Subscribe(buffer)
}

// Close ends all subscriptions.
func (l *Ledger) Close() {
	l.events.Close()
}

func (l *Ledger) isActive(t models.Transfer) bool {
	switch t.Status {
	case models.TransferInProgress:
		return true
	case models.TransferCompleted:
		return t.EndTime != nil && l.clock.Since(*t.EndTime) < ActiveWindow
	default:
		return false
	}
}

func (l *Ledger) filter(keep func(models.Transfer) bool) []models.Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Transfer, 0, len(l.order))
	for _, id := range l.order {
		transfer := l.records[id]
		if keep(transfer) {
			out = append(out, transfer.Clone())
		}
	}
	return out
}
