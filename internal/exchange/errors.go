package exchange

import "fmt"

// ExchangeError is the typed error surfaced for any non-2xx REST response.
// Code mirrors the Binance-style negative error code (e.g. -2011, -2021)
// so strategies can pattern-match on it without parsing message text.
type ExchangeError struct {
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Well-known codes the strategies and adapter special-case.
const (
	CodeUnknownOrder          = -2011
	CodeWouldImmediateTrigger = -2021
)

// IsCode reports whether err is an *ExchangeError carrying the given code.
func IsCode(err error, code int) bool {
	ee, ok := err.(*ExchangeError)
	return ok && ee.Code == code
}
