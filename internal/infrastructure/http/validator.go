package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	apperrors "github.com/wekeepgrowing/semo-dunning/pkg/errors"
)

// RequestValidator plugs go-playground/validator into echo's Context.Validate
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate returns a 400 HTTP error describing every failed field
func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !apperrors.As(err, &fieldErrs) {
		return echo.NewHTTPError(http.StatusBadRequest, apperrors.HTTPBody{
			Error: err.Error(),
			Code:  apperrors.ErrInvalidArgument,
		})
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return echo.NewHTTPError(http.StatusBadRequest, apperrors.HTTPBody{
		Error: strings.Join(msgs, "; "),
		Code:  apperrors.ErrInvalidArgument,
	})
}
