package coordinator

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	errorvalues "github.com/limbo/routinesync/internal/error_values"
	"github.com/limbo/routinesync/pkg/entity"
)

// Package for custom validations
var (
	validate *validator.Validate
	once     sync.Once
)

func InitValidator() {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			return entity.ValidTime(fl.Field().String())
		})
	})
}

func validateInput(input *entity.RoutineInput) error {
	InitValidator()
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %s", errorvalues.ErrInvalidRoutine, err.Error())
	}
	if input.Frequency != entity.FrequencyCustom && len(input.CustomDays) > 0 {
		return fmt.Errorf("%w: custom_days only allowed with custom frequency", errorvalues.ErrInvalidRoutine)
	}
	return nil
}

func validatePatch(patch *entity.RoutinePatch) error {
	InitValidator()
	if err := validate.Struct(patch); err != nil {
		return fmt.Errorf("%w: %s", errorvalues.ErrInvalidRoutine, err.Error())
	}
	if patch.Frequency != nil && *patch.Frequency == entity.FrequencyCustom && len(patch.CustomDays) == 0 {
		return fmt.Errorf("%w: custom frequency requires custom_days", errorvalues.ErrInvalidRoutine)
	}
	if patch.Frequency != nil && *patch.Frequency != entity.FrequencyCustom && len(patch.CustomDays) > 0 {
		return fmt.Errorf("%w: custom_days only allowed with custom frequency", errorvalues.ErrInvalidRoutine)
	}
	return nil
}
