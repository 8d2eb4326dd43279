package binance

import (
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/petreltrade/petrel/errs"
)

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Venue error codes that need a kind other than the HTTP default.
const (
	codeUnknownOrderCancel = -2011 // CANCEL_REJECTED, order already gone
	codeNoSuchOrder        = -2013
	codeBadAPIKeyFormat    = -2014
	codeRejectedAPIKey     = -2015 // invalid key, IP, or missing permission
	codeTimestampOutside   = -1021
	codeBadSignature       = -1022
)

// classifyHTTPError maps a non-2xx response onto the error taxonomy. The raw
// venue code and message are preserved verbatim so rejection reasons reach the
// caller unaltered.
func classifyHTTPError(status int, body []byte) error {
	var apiErr binanceError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Msg == "" {
		trimmed := strings.TrimSpace(string(body))
		if status >= http.StatusInternalServerError {
			return errs.New(errs.KindConnection, errs.WithHTTP(status),
				errs.WithMessage("binance server error"), errs.WithRawMessage(trimmed))
		}
		return errs.New(errs.KindProvider, errs.WithHTTP(status),
			errs.WithMessage("binance request failed"), errs.WithRawMessage(trimmed))
	}

	kind := errs.KindProvider
	switch apiErr.Code {
	case codeNoSuchOrder, codeUnknownOrderCancel:
		kind = errs.KindNotFound
	case codeBadAPIKeyFormat, codeRejectedAPIKey, codeBadSignature:
		kind = errs.KindPermission
	case codeTimestampOutside:
		// Clock skew: the request never reached matching, safe to retry
		// after resyncing time.
		kind = errs.KindConnection
	default:
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			kind = errs.KindPermission
		case status >= http.StatusInternalServerError:
			kind = errs.KindConnection
		}
	}
	return errs.New(kind,
		errs.WithHTTP(status),
		errs.WithRawCode(strconv.Itoa(apiErr.Code)),
		errs.WithRawMessage(apiErr.Msg),
	)
}
