package service

import (
	"errors"
	"fmt"

	"kestrel/domain/orderbook"
)

// ErrValidation is the parent of every request error. Validation failures
// leave the engine unchanged.
var ErrValidation = errors.New("validation failed")

var (
	ErrOrderNotFound  = fmt.Errorf("%w: no such order", ErrValidation)
	ErrOrderDone      = fmt.Errorf("%w: order complete", ErrValidation)
	ErrOrderNotDone   = fmt.Errorf("%w: order not complete", ErrValidation)
	ErrInvalidLots    = fmt.Errorf("%w: invalid lots", ErrValidation)
	ErrInvalidTicks   = fmt.Errorf("%w: invalid ticks", ErrValidation)
	ErrRefExists      = fmt.Errorf("%w: reference already in use", ErrValidation)
	ErrMarketNotFound = fmt.Errorf("%w: no such market", ErrValidation)
	ErrMarketClosed   = fmt.Errorf("%w: market closed", ErrValidation)
	ErrTraderNotFound = fmt.Errorf("%w: no such trader", ErrValidation)
)

// ErrJournal matches every *JournalError.
var ErrJournal = errors.New("journal failure")

// JournalError reports a rejected durability call. The operation that
// issued it has been rolled back.
type JournalError struct {
	Op  string
	Err error
}

func (e *JournalError) Error() string {
	return fmt.Sprintf("journal %s: %v", e.Op, e.Err)
}

func (e *JournalError) Unwrap() []error {
	return []error{ErrJournal, e.Err}
}

func journalErr(op string, err error) error {
	return &JournalError{Op: op, Err: err}
}

// bookErr lifts an order book rule violation into the request taxonomy.
func bookErr(err error, id int64) error {
	switch {
	case errors.Is(err, orderbook.ErrOrderDone):
		return fmt.Errorf("%w '%d'", ErrOrderDone, id)
	case errors.Is(err, orderbook.ErrInvalidLots):
		return fmt.Errorf("%w for order '%d'", ErrInvalidLots, id)
	default:
		return err
	}
}
