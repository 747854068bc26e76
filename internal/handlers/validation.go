package handlers

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"tradegpt-backend/internal/models"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags to gin's validator. Safe to
// call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("tradestatus", func(fl validator.FieldLevel) bool {
				return models.TradeStatus(fl.Field().String()).Valid()
			})
		}
	})
}
