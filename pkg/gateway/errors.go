package gateway

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/angelmondragon/escrow-ledger/pkg/errors"
)

// ErrInvalidAccountSpec is returned when a fund account spec does not name exactly one instrument.
var ErrInvalidAccountSpec = pkgerrors.New(pkgerrors.CodeInvalidAccountSpec, "exactly one of bank_account, vpa or card is required")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway api error: status=%d code=%s description=%s", e.StatusCode, e.Code, e.Description)
}

type errorBody struct {
	Error APIError `json:"error"`
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func mapGatewayError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("gateway %s failed", op)).
			WithDetails(map[string]any{
				"status":      apiErr.StatusCode,
				"code":        apiErr.Code,
				"description": apiErr.Description,
			})
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("gateway %s failed", op))
}
