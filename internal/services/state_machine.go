package services

import (
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
)

// transitions - таблица допустимых переходов жизненного цикла доставки.
// Переход PENDING -> FAILED нужен планировщику: после исчерпания попыток
// подбора доставка завершается как неуспешная, минуя назначение.
// FAILED -> PENDING - повторный ввод доставки в работу
var transitions = map[models.DeliveryStatus][]models.DeliveryStatus{
	models.DeliveryStatusPending: {
		models.DeliveryStatusAssigned,
		models.DeliveryStatusCancelled,
		models.DeliveryStatusFailed,
	},
	models.DeliveryStatusAssigned: {
		models.DeliveryStatusPickedUp,
		models.DeliveryStatusCancelled,
		models.DeliveryStatusFailed,
	},
	models.DeliveryStatusPickedUp: {
		models.DeliveryStatusInTransit,
		models.DeliveryStatusCancelled,
		models.DeliveryStatusFailed,
	},
	models.DeliveryStatusInTransit: {
		models.DeliveryStatusDelivered,
		models.DeliveryStatusFailed,
	},
	models.DeliveryStatusDelivered: {},
	models.DeliveryStatusCancelled: {},
	models.DeliveryStatusFailed: {
		models.DeliveryStatusPending,
	},
}

// CanTransition проверяет, допустим ли переход между статусами
func CanTransition(from, to models.DeliveryStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает StateError с текущим и запрошенным статусом,
// если переход недопустим. Единственные ворота смены статуса: и планировщик,
// и монитор трекинга, и HTTP-слой проходят через эту проверку
func ValidateTransition(from, to models.DeliveryStatus) error {
	if !CanTransition(from, to) {
		return apperr.NewState(string(from), string(to))
	}
	return nil
}

// IsTerminal сообщает, является ли статус конечным.
// FAILED допускает повторный ввод, поэтому конечным не считается
func IsTerminal(status models.DeliveryStatus) bool {
	return status == models.DeliveryStatusDelivered || status == models.DeliveryStatusCancelled
}

// HoldsDriver сообщает, должен ли быть установлен driver_id в данном статусе.
// Инвариант: driver_id != nil тогда и только тогда, когда статус входит
// в это множество
func HoldsDriver(status models.DeliveryStatus) bool {
	switch status {
	case models.DeliveryStatusAssigned, models.DeliveryStatusPickedUp,
		models.DeliveryStatusInTransit, models.DeliveryStatusDelivered:
		return true
	}
	return false
}
