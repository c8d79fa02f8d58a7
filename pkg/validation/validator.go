package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/Aidin1998/amlstream/pkg/errors"
	"github.com/Aidin1998/amlstream/pkg/models"
)

// MaxMetadataKeys bounds the metadata map of a single transaction
const MaxMetadataKeys = 64

// Validator checks inbound transactions before they reach the pipeline
type Validator struct {
	validator *validator.Validate
	logger    *zap.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()

	// decimal amounts compare as floats so numeric tags such as gte apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v, logger: logger}
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve[0].Message)
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var validationErrs ValidationErrors
	for _, fe := range fieldErrs {
		validationErrs = append(validationErrs, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: v.getErrorMessage(fe),
		})
	}
	return validationErrs
}

// ValidateTransaction returns a validation-kind error describing the first
// problem with txn, or nil
func (v *Validator) ValidateTransaction(txn models.Transaction) error {
	if err := v.ValidateStruct(txn); err != nil {
		v.logger.Debug("Rejected transaction",
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
		return apperrors.Validation.Explain("transaction %q", txn.ID).Wrap(err)
	}
	if len(txn.Metadata) > MaxMetadataKeys {
		return apperrors.Validation.Explain("transaction %q has %d metadata keys, limit %d",
			txn.ID, len(txn.Metadata), MaxMetadataKeys)
	}
	return nil
}

func (v *Validator) getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
