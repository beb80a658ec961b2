package vendors

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidations installs the vendor-specific binding validators on
// gin's validator engine. Call once at startup, before serving requests.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return Capability(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("vendoravailability", func(fl validator.FieldLevel) bool {
		switch Availability(fl.Field().String()) {
		case Available, Busy, Offline:
			return true
		}
		return false
	})
}
