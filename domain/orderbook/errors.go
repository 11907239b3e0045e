package orderbook

import "errors"

var (
	ErrOrderDone   = errors.New("order complete")
	ErrInvalidLots = errors.New("invalid lots")
	ErrNotResting  = errors.New("order not in book")
)
