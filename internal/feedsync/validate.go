package feedsync

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("entry_kind", func(fl validator.FieldLevel) bool {
		return timeline.Kind(fl.Field().String()).Valid()
	})
	return v
}

// validateInput runs struct validation and reports failures as
// timeline.ErrValidation.
func validateInput(op string, in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return timeline.Errorf(timeline.ErrValidation, op, "field %s failed %q", first.Field(), first.Tag())
	}
	return &timeline.Error{Kind: timeline.ErrValidation, Op: op, Err: fmt.Errorf("invalid input: %w", err)}
}
