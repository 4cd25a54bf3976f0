package services

import (
	"context"
	"sync"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
)

func testLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func testDispatchConfig() *config.DispatchConfig {
	return &config.DispatchConfig{
		SearchRadiusKm: 10,
		CandidateLimit: 10,
		MaxRetries:     3,
		RetryBaseDelay: 5,
		RetryMaxDelay:  120,
		SweepInterval:  300,
		PendingTimeout: 300,
		DriverCapacity: 5,
		DriverTTL:      60,
	}
}

type fakeDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*models.Delivery
	events     []models.TrackingEvent
	samples    []models.LocationSample
	stale      []uuid.UUID
}

func newFakeDeliveryStore(deliveries ...*models.Delivery) *fakeDeliveryStore {
	store := &fakeDeliveryStore{deliveries: make(map[uuid.UUID]*models.Delivery)}
	for _, d := range deliveries {
		store.deliveries[d.ID] = d
	}
	return store
}

func (f *fakeDeliveryStore) GetDelivery(_ context.Context, id uuid.UUID) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, apperr.NewNotFound("delivery", id.String())
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeliveryStore) CommitAssignment(_ context.Context, deliveryID, driverID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[deliveryID]
	if !ok {
		return false, apperr.NewNotFound("delivery", deliveryID.String())
	}
	if d.Status != models.DeliveryStatusPending {
		return false, nil
	}
	d.Status = models.DeliveryStatusAssigned
	d.DriverID = &driverID
	return true, nil
}

func (f *fakeDeliveryStore) ChangeStatus(_ context.Context, id uuid.UUID, change StatusChange) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, apperr.NewNotFound("delivery", id.String())
	}
	if err := ValidateTransition(d.Status, change.To); err != nil {
		return nil, err
	}
	d.Status = change.To
	now := time.Now().UTC()
	switch change.To {
	case models.DeliveryStatusDelivered:
		d.DeliveredAt = &now
	case models.DeliveryStatusCancelled:
		d.CancelReason = &change.Reason
		d.DriverID = nil
	case models.DeliveryStatusFailed:
		d.FailureReason = &change.Reason
		d.DriverID = nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeliveryStore) ListStalePending(_ context.Context, _ time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.stale...), nil
}

func (f *fakeDeliveryStore) ListActiveByDriver(_ context.Context, driverID uuid.UUID) ([]*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*models.Delivery
	for _, d := range f.deliveries {
		if d.DriverID == nil || *d.DriverID != driverID {
			continue
		}
		switch d.Status {
		case models.DeliveryStatusAssigned, models.DeliveryStatusPickedUp, models.DeliveryStatusInTransit:
			copied := *d
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (f *fakeDeliveryStore) AppendTrackingEvent(_ context.Context, event *models.TrackingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeDeliveryStore) ListTrackingEvents(_ context.Context, deliveryID uuid.UUID) ([]models.TrackingEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TrackingEvent
	// От новых к старым, как читает реальное хранилище
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].DeliveryID == deliveryID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeDeliveryStore) InsertLocationSample(_ context.Context, sample *models.LocationSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, *sample)
	return nil
}

func (f *fakeDeliveryStore) LatestLocationSample(_ context.Context, deliveryID uuid.UUID) (*models.LocationSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].DeliveryID == deliveryID {
			copied := f.samples[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDeliveryStore) eventsOfType(deliveryID uuid.UUID, eventType models.TrackingEventType) []models.TrackingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TrackingEvent
	for _, e := range f.events {
		if e.DeliveryID == deliveryID && e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeDriverStore struct {
	mu       sync.Mutex
	drivers  map[uuid.UUID]*models.Driver
	capacity int
	reserved []uuid.UUID
	released []uuid.UUID
}

func newFakeDriverStore(capacity int, drivers ...*models.Driver) *fakeDriverStore {
	store := &fakeDriverStore{drivers: make(map[uuid.UUID]*models.Driver), capacity: capacity}
	for _, d := range drivers {
		store.drivers[d.ID] = d
	}
	return store
}

func (f *fakeDriverStore) GetDriver(_ context.Context, id uuid.UUID) (*models.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return nil, apperr.NewNotFound("driver", id.String())
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDriverStore) ReserveCapacity(_ context.Context, driverID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return false, nil
	}
	if !d.IsAvailable || d.ActiveDeliveries >= f.capacity {
		return false, nil
	}
	d.ActiveDeliveries++
	f.reserved = append(f.reserved, driverID)
	return true, nil
}

func (f *fakeDriverStore) ReleaseCapacity(_ context.Context, driverID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.drivers[driverID]; ok && d.ActiveDeliveries > 0 {
		d.ActiveDeliveries--
	}
	f.released = append(f.released, driverID)
	return nil
}

func (f *fakeDriverStore) RecordLocation(_ context.Context, driverID uuid.UUID, location models.Location, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[driverID]
	if !ok {
		return apperr.NewNotFound("driver", driverID.String())
	}
	d.CurrentLat = &location.Lat
	d.CurrentLng = &location.Lng
	d.LastSeenAt = &seenAt
	return nil
}

type fakeGeoIndex struct {
	mu         sync.Mutex
	candidates []models.DriverCandidate
	queryErr   error
	upserts    []uuid.UUID
	removed    []uuid.UUID
}

func (f *fakeGeoIndex) Upsert(_ context.Context, driver *models.Driver, _ models.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, driver.ID)
	return nil
}

func (f *fakeGeoIndex) Remove(_ context.Context, driverID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, driverID)
	return nil
}

func (f *fakeGeoIndex) Query(_ context.Context, _ models.Location, _ float64, vehicleType *models.VehicleType, limit int) ([]models.DriverCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]models.DriverCandidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		if vehicleType != nil && c.VehicleType != *vehicleType {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []models.AssignmentMessage
	err       error
}

func (f *fakePublisher) PublishAssignment(msg models.AssignmentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) messages() []models.AssignmentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AssignmentMessage(nil), f.published...)
}

type notification struct {
	Type       string
	DeliveryID uuid.UUID
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (f *fakeNotifier) Publish(_ context.Context, notificationType string, deliveryID uuid.UUID, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification{Type: notificationType, DeliveryID: deliveryID})
	return nil
}

func (f *fakeNotifier) notifications() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.sent...)
}
