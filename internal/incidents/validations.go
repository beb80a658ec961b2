package incidents

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidations installs the incident-specific binding validators on
// gin's validator engine. Call once at startup, before serving requests.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("servicetype", func(fl validator.FieldLevel) bool {
		return ServiceType(fl.Field().String()).Valid()
	})
}
