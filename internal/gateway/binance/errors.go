package binance

import (
	"context"
	"errors"
	"net"

	"github.com/adshao/go-binance/v2/common"

	"vela/internal/errs"
)

// Binance error codes the engine cares about. Everything else the API
// rejects is surfaced as KindExchangeRejected and not retried blindly.
const (
	codeTooManyRequests  = -1003
	codeTooManyOrders    = -1015
	codeTimestampSkew    = -1021
	codeInvalidAPIKey    = -2014
	codeKeyNotAuthorized = -2015
	codeOrderNotFound    = -2013
)

// classify maps SDK errors onto the engine taxonomy. Network-level failures
// and rate limits are transient; credential failures are fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyRequests, codeTooManyOrders, codeTimestampSkew:
			return errs.Wrap(errs.KindTransient, err)
		case codeInvalidAPIKey, codeKeyNotAuthorized:
			return errs.Wrap(errs.KindFatal, err)
		default:
			return errs.Wrap(errs.KindExchangeRejected, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.KindTransient, err)
	}
	// Anything the SDK didn't structure is assumed to be a transport fault.
	return errs.Wrap(errs.KindTransient, err)
}

func isOrderNotFound(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeOrderNotFound
}
