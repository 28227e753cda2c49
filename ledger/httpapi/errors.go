package httpapi

import (
	"net/http"

	"github.com/AntonStoeckl/rental-ledger-go/ledger"
)

// Error codes returned in the error body.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeNotFound            = "NOT_FOUND"
	CodeOutOfStock          = "OUT_OF_STOCK"
	CodeAlreadyRented       = "ALREADY_RENTED"
	CodeAlreadyReturned     = "ALREADY_RETURNED"
	CodeTransactionConflict = "TRANSACTION_CONFLICT"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeCanceled            = "CANCELED"
	CodeInternal            = "INTERNAL"
)

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Code: code, Message: message}}
}

func errorFromErr(err error) ErrorBody {
	return errorBody(codeFor(ledger.KindOf(err)), err.Error())
}

// ToHTTPStatus maps the ledger failure kind of err to an HTTP status code.
func ToHTTPStatus(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindNone:
		return http.StatusOK
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindOutOfStock, ledger.KindAlreadyRented, ledger.KindAlreadyReturned:
		return http.StatusConflict
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindTransactionConflict, ledger.KindStoreUnavailable,
		ledger.KindCanceled, ledger.KindDeadlineExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(kind ledger.Kind) string {
	switch kind {
	case ledger.KindNotFound:
		return CodeNotFound
	case ledger.KindOutOfStock:
		return CodeOutOfStock
	case ledger.KindAlreadyRented:
		return CodeAlreadyRented
	case ledger.KindAlreadyReturned:
		return CodeAlreadyReturned
	case ledger.KindInvalidInput:
		return CodeInvalidArgument
	case ledger.KindTransactionConflict:
		return CodeTransactionConflict
	case ledger.KindStoreUnavailable:
		return CodeStoreUnavailable
	case ledger.KindCanceled, ledger.KindDeadlineExceeded:
		return CodeCanceled
	default:
		return CodeInternal
	}
}
