package services

import (
	"context"
	"testing"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type assignmentFixture struct {
	svc        *AssignmentService
	deliveries *fakeDeliveryStore
	drivers    *fakeDriverStore
	geo        *fakeGeoIndex
	publisher  *fakePublisher
	notifier   *fakeNotifier

	delays []time.Duration
	defers []func()
}

func newAssignmentFixture(t *testing.T, delivery *models.Delivery, drivers ...*models.Driver) *assignmentFixture {
	t.Helper()

	fx := &assignmentFixture{
		deliveries: newFakeDeliveryStore(delivery),
		drivers:    newFakeDriverStore(5, drivers...),
		geo:        &fakeGeoIndex{},
		publisher:  &fakePublisher{},
		notifier:   &fakeNotifier{},
	}

	fx.svc = NewAssignmentService(
		fx.deliveries, fx.drivers, fx.geo, fx.publisher, fx.notifier,
		testDispatchConfig(), metrics.New(), testLogger())

	// Отложенные повторы перехватываются, а не исполняются по таймеру
	fx.svc.deferFn = func(delay time.Duration, fn func()) {
		fx.delays = append(fx.delays, delay)
		fx.defers = append(fx.defers, fn)
	}
	fx.svc.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	return fx
}

func pendingDelivery() *models.Delivery {
	return &models.Delivery{
		ID:       uuid.New(),
		Status:   models.DeliveryStatusPending,
		Priority: models.PriorityNormal,
		Pickup:   models.Location{Lat: 41.3111, Lng: 69.2797},
		Dropoff:  models.Location{Lat: 41.3265, Lng: 69.2285},
	}
}

func availableDriver(vehicleType models.VehicleType, rating float64) *models.Driver {
	return &models.Driver{
		ID:          uuid.New(),
		Name:        "driver",
		VehicleType: vehicleType,
		Rating:      rating,
		IsAvailable: true,
	}
}

func candidateFor(driver *models.Driver, distanceKm float64) models.DriverCandidate {
	return models.DriverCandidate{
		DriverID:    driver.ID,
		Location:    models.Location{Lat: 41.31, Lng: 69.28},
		DistanceKm:  distanceKm,
		Rating:      driver.Rating,
		VehicleType: driver.VehicleType,
		IsAvailable: driver.IsAvailable,
	}
}

func assignmentEvent(t *testing.T, msg models.AssignmentMessage) *models.Event {
	t.Helper()
	event, err := models.NewEvent(models.EventTypeAssignmentRequested, msg)
	require.NoError(t, err)
	return &event
}

func TestScoreCandidate(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	t.Run("car two km away with rating 4.5", func(t *testing.T) {
		candidate := models.DriverCandidate{
			DistanceKm:  2,
			Rating:      4.5,
			VehicleType: models.VehicleTypeCar,
			IsAvailable: true,
		}
		// 32 за близость + 27 за рейтинг + 20 за транспорт + 10 за доступность
		assert.InDelta(t, 89.0, fx.svc.ScoreCandidate(delivery, candidate), 1e-9)
	})

	t.Run("bicycle counts for normal priority only", func(t *testing.T) {
		candidate := models.DriverCandidate{
			DistanceKm:  2,
			Rating:      4.5,
			VehicleType: models.VehicleTypeBicycle,
			IsAvailable: true,
		}
		assert.InDelta(t, 89.0, fx.svc.ScoreCandidate(delivery, candidate), 1e-9)

		urgent := *delivery
		urgent.Priority = models.PriorityUrgent
		assert.InDelta(t, 69.0, fx.svc.ScoreCandidate(&urgent, candidate), 1e-9)
	})

	t.Run("distance beyond radius scores zero for proximity", func(t *testing.T) {
		candidate := models.DriverCandidate{
			DistanceKm:  12,
			Rating:      5,
			VehicleType: models.VehicleTypeVan,
			IsAvailable: true,
		}
		// 0 + 30 + 0 + 10
		assert.InDelta(t, 40.0, fx.svc.ScoreCandidate(delivery, candidate), 1e-9)
	})
}

func TestRankCandidates(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	far := models.DriverCandidate{DriverID: uuid.New(), DistanceKm: 8, Rating: 5, VehicleType: models.VehicleTypeCar, IsAvailable: true}
	near := models.DriverCandidate{DriverID: uuid.New(), DistanceKm: 1, Rating: 3, VehicleType: models.VehicleTypeCar, IsAvailable: true}
	best := models.DriverCandidate{DriverID: uuid.New(), DistanceKm: 1, Rating: 5, VehicleType: models.VehicleTypeCar, IsAvailable: true}

	candidates := []models.DriverCandidate{far, near, best}
	fx.svc.rankCandidates(delivery, candidates)

	assert.Equal(t, best.DriverID, candidates[0].DriverID)
	assert.Equal(t, near.DriverID, candidates[1].DriverID)
	assert.Equal(t, far.DriverID, candidates[2].DriverID)
}

func TestRankCandidates_TieBreakByDistance(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	// Очки подобраны одинаковыми: 4 км дальше дает -12 от близости,
	// рейтинг выше на 2 дает +12
	farBetterRated := models.DriverCandidate{DriverID: uuid.New(), DistanceKm: 5, Rating: 5, VehicleType: models.VehicleTypeCar, IsAvailable: true}
	nearWorseRated := models.DriverCandidate{DriverID: uuid.New(), DistanceKm: 2, Rating: 3, VehicleType: models.VehicleTypeCar, IsAvailable: true}

	require.InDelta(t,
		fx.svc.ScoreCandidate(delivery, farBetterRated),
		fx.svc.ScoreCandidate(delivery, nearWorseRated), 1e-9)

	candidates := []models.DriverCandidate{farBetterRated, nearWorseRated}
	fx.svc.rankCandidates(delivery, candidates)

	assert.Equal(t, nearWorseRated.DriverID, candidates[0].DriverID)
}

func TestHandleDeliveryCreated(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	event, err := models.NewEvent(models.EventTypeDeliveryCreated, models.DeliveryCreatedEvent{DeliveryID: delivery.ID})
	require.NoError(t, err)

	require.NoError(t, fx.svc.HandleDeliveryCreated(context.Background(), &event))

	msgs := fx.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, delivery.ID, msgs[0].DeliveryID)
	assert.Equal(t, 0, msgs[0].RetryCount)
	assert.Equal(t, 3, msgs[0].MaxRetries)

	assert.Len(t, fx.deliveries.eventsOfType(delivery.ID, models.TrackingEventDeliveryCreated), 1)
}

func TestHandleAssignmentMessage_AssignsBestCandidate(t *testing.T) {
	delivery := pendingDelivery()
	better := availableDriver(models.VehicleTypeCar, 4.8)
	worse := availableDriver(models.VehicleTypeCar, 3.1)
	fx := newAssignmentFixture(t, delivery, better, worse)
	fx.geo.candidates = []models.DriverCandidate{
		candidateFor(worse, 3),
		candidateFor(better, 2),
	}

	msg := models.AssignmentMessage{DeliveryID: delivery.ID, MaxRetries: 3}
	require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))

	stored, err := fx.deliveries.GetDelivery(context.Background(), delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusAssigned, stored.Status)
	require.NotNil(t, stored.DriverID)
	assert.Equal(t, better.ID, *stored.DriverID)

	driver, err := fx.drivers.GetDriver(context.Background(), better.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, driver.ActiveDeliveries)

	assert.Len(t, fx.deliveries.eventsOfType(delivery.ID, models.TrackingEventDriverAssigned), 1)

	notifications := fx.notifier.notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "driver_assigned", notifications[0].Type)

	assert.Empty(t, fx.delays, "no retry should be scheduled")
}

func TestHandleAssignmentMessage_DeliveryNoLongerPending(t *testing.T) {
	delivery := pendingDelivery()
	delivery.Status = models.DeliveryStatusCancelled
	fx := newAssignmentFixture(t, delivery)

	msg := models.AssignmentMessage{DeliveryID: delivery.ID, MaxRetries: 3}
	require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))

	assert.Empty(t, fx.publisher.messages())
	assert.Empty(t, fx.delays)
	assert.Empty(t, fx.drivers.reserved)
}

func TestHandleAssignmentMessage_CapacityFallback(t *testing.T) {
	delivery := pendingDelivery()
	full := availableDriver(models.VehicleTypeCar, 5)
	full.ActiveDeliveries = 5 // на пределе емкости
	fallback := availableDriver(models.VehicleTypeCar, 4)
	fx := newAssignmentFixture(t, delivery, full, fallback)
	fx.geo.candidates = []models.DriverCandidate{
		candidateFor(full, 1),
		candidateFor(fallback, 2),
	}

	msg := models.AssignmentMessage{DeliveryID: delivery.ID, MaxRetries: 3}
	require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))

	stored, err := fx.deliveries.GetDelivery(context.Background(), delivery.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DriverID)
	assert.Equal(t, fallback.ID, *stored.DriverID)
}

func TestHandleAssignmentMessage_NoCandidatesSchedulesRetry(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	msg := models.AssignmentMessage{DeliveryID: delivery.ID, RetryCount: 0, MaxRetries: 3}
	require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))

	require.Len(t, fx.delays, 1)
	assert.Equal(t, 5*time.Second, fx.delays[0])

	// Повтор публикуется только по срабатыванию таймера
	assert.Empty(t, fx.publisher.messages())
	fx.defers[0]()

	msgs := fx.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, 3, msgs[0].MaxRetries)

	stored, err := fx.deliveries.GetDelivery(context.Background(), delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, stored.Status)
}

func TestHandleAssignmentMessage_RetryDelaysDouble(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	for retry, want := range map[int]time.Duration{
		0: 5 * time.Second,
		1: 10 * time.Second,
		2: 20 * time.Second,
	} {
		fx.delays = nil
		msg := models.AssignmentMessage{DeliveryID: delivery.ID, RetryCount: retry, MaxRetries: 5}
		require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))
		require.Len(t, fx.delays, 1)
		assert.Equal(t, want, fx.delays[0], "retry %d", retry)
	}
}

func TestHandleAssignmentMessage_RetriesExhausted(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)

	msg := models.AssignmentMessage{DeliveryID: delivery.ID, RetryCount: 3, MaxRetries: 3}
	require.NoError(t, fx.svc.HandleAssignmentMessage(context.Background(), assignmentEvent(t, msg)))

	stored, err := fx.deliveries.GetDelivery(context.Background(), delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, FailureReasonNoDrivers, *stored.FailureReason)

	notifications := fx.notifier.notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "delivery_failed", notifications[0].Type)

	assert.Empty(t, fx.delays)
}

func TestSweepOnce(t *testing.T) {
	delivery := pendingDelivery()
	fx := newAssignmentFixture(t, delivery)
	fx.deliveries.stale = []uuid.UUID{delivery.ID}

	fx.svc.SweepOnce(context.Background())

	msgs := fx.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, delivery.ID, msgs[0].DeliveryID)
	// Сетка повторов начинается заново
	assert.Equal(t, 0, msgs[0].RetryCount)
}
