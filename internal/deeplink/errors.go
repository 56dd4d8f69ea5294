package deeplink

import (
	"errors"

	"github.com/calderaware/refinery/pkg/errorbank"
)

func errorIsNotFound(err error) bool {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr.Kind() == errorbank.KindNotFound
	}
	return false
}
