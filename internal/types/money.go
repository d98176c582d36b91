// README: Money value object for opaque order totals and delivery fees (minor units).
package types

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
