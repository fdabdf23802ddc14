// Package currency converts between USD and MVR at a fixed rate.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/tab/pkg/api"
)

// USDToMVRRate is the fixed USD→MVR conversion rate.
const USDToMVRRate = 15.42

var rate = decimal.NewFromFloat(USDToMVRRate)

// USDToMVR converts a USD amount to MVR, rounded to two places.
func USDToMVR(amount float64) float64 {
	return decimal.NewFromFloat(amount).Mul(rate).Round(2).InexactFloat64()
}

// MVRToUSD converts an MVR amount to USD, rounded to two places.
func MVRToUSD(amount float64) float64 {
	return decimal.NewFromFloat(amount).Div(rate).Round(2).InexactFloat64()
}

// ToMVR converts amount from the given currency into MVR.
// Unknown currencies are assumed to already be MVR.
func ToMVR(amount float64, currency string) float64 {
	if strings.EqualFold(currency, api.CurrencyUSD) {
		return USDToMVR(amount)
	}
	return amount
}

// FormatAmount renders an amount with its currency marker.
func FormatAmount(amount float64, currency string) string {
	if strings.EqualFold(currency, api.CurrencyUSD) {
		return "$" + FormatAmountOnly(amount)
	}
	return fmt.Sprintf("MVR %s", FormatAmountOnly(amount))
}

// FormatAmountOnly renders an amount with two decimal places.
func FormatAmountOnly(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}
