package services

import (
	"math"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
)

// PricingService рассчитывает стоимость доставки:
// базовая ставка плюс тариф за километр по прямой, с отсечкой снизу и сверху
type PricingService struct {
	config *config.PricingConfig
	log    *logger.Logger
}

// NewPricingService создает сервис расчета стоимости доставки
func NewPricingService(cfg *config.PricingConfig, log *logger.Logger) *PricingService {
	return &PricingService{
		config: cfg,
		log:    log,
	}
}

// CalculateFee возвращает стоимость доставки между точками забора и выдачи
func (s *PricingService) CalculateFee(pickup, dropoff models.Location) float64 {
	distance := Haversine(pickup, dropoff)

	fee := s.config.BasePrice + distance*s.config.PricePerKm

	if fee < s.config.MinPrice {
		fee = s.config.MinPrice
	}
	if fee > s.config.MaxPrice {
		fee = s.config.MaxPrice
	}

	return math.Round(fee*100) / 100
}
