// Package validator wraps go-playground/validator/v10, translating
// struct-tag validation failures into this core's ErrInvalidArgument kind.
package validator

import (
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	ierr "github.com/ridgeline/meterbill/internal/errors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func initValidator() {
	once.Do(func() {
		validate = validator.New()
	})
}

func GetValidator() *validator.Validate {
	initValidator()
	return validate
}

// ValidateRequest validates req against its `validate` struct tags,
// returning a WithHint'd, ErrInvalidArgument-marked error on failure.
func ValidateRequest(req interface{}) error {
	initValidator()

	if err := validate.Struct(req); err != nil {
		details := make(map[string]any)
		if validateErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range validateErrs {
				details[fe.Field()] = fe.Error()
			}
		}
		return ierr.WithError(err).
			WithHint("request validation failed").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidArgument)
	}
	return nil
}

// ValidateURL requires raw, if non-empty, to be a well-formed http or
// https URL with a host.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return ierr.WithError(err).WithHint("url must be a valid URL").Mark(ierr.ErrInvalidArgument)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return ierr.NewError("url must start with http:// or https://").Mark(ierr.ErrInvalidArgument)
	}
	if u.Host == "" {
		return ierr.NewError("url must have a valid host").Mark(ierr.ErrInvalidArgument)
	}
	return nil
}
