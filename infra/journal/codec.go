package journal

import (
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
)

// Records are encoded as protobuf messages on the wire, field by field.
// Zero values are omitted, as proto3 would.

var ErrBadRecord = errors.New("journal: malformed record")

func putInt(b []byte, n protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func putString(b []byte, n protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, n, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func putTime(b []byte, n protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return putInt(b, n, t.UnixNano())
}

func putBool(b []byte, n protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return putInt(b, n, 1)
}

// fields walks a message, handing each varint or bytes field to fn.
func fields(b []byte, fn func(n protowire.Number, v int64, s []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Join(ErrBadRecord, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.Join(ErrBadRecord, protowire.ParseError(n))
			}
			fn(num, int64(v), nil)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.Join(ErrBadRecord, protowire.ParseError(n))
			}
			fn(num, 0, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.Join(ErrBadRecord, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func unixTime(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func encodeOrder(o *orderbook.Order, archived bool) []byte {
	var b []byte
	b = putInt(b, 1, o.ID)
	b = putString(b, 2, o.Trader)
	b = putString(b, 3, o.Market)
	b = putString(b, 4, o.Contr)
	b = putInt(b, 5, int64(o.SettlDay))
	b = putString(b, 6, o.Ref)
	b = putInt(b, 7, int64(o.Side))
	b = putInt(b, 8, o.Ticks)
	b = putInt(b, 9, o.Lots)
	b = putInt(b, 10, o.Resd)
	b = putInt(b, 11, o.Exec)
	b = putInt(b, 12, o.MinLots)
	b = putInt(b, 13, int64(o.Rev))
	b = putInt(b, 14, int64(o.Status))
	b = putInt(b, 15, o.LastLots)
	b = putInt(b, 16, o.LastTicks)
	b = putTime(b, 17, o.Created)
	b = putTime(b, 18, o.Modified)
	b = putBool(b, 19, archived)
	return b
}

func decodeOrder(b []byte) (o orderbook.Order, archived bool, err error) {
	err = fields(b, func(n protowire.Number, v int64, s []byte) {
		switch n {
		case 1:
			o.ID = v
		case 2:
			o.Trader = string(s)
		case 3:
			o.Market = string(s)
		case 4:
			o.Contr = string(s)
		case 5:
			o.SettlDay = int32(v)
		case 6:
			o.Ref = string(s)
		case 7:
			o.Side = orderbook.Side(v)
		case 8:
			o.Ticks = v
		case 9:
			o.Lots = v
		case 10:
			o.Resd = v
		case 11:
			o.Exec = v
		case 12:
			o.MinLots = v
		case 13:
			o.Rev = int32(v)
		case 14:
			o.Status = orderbook.Status(v)
		case 15:
			o.LastLots = v
		case 16:
			o.LastTicks = v
		case 17:
			o.Created = unixTime(v)
		case 18:
			o.Modified = unixTime(v)
		case 19:
			archived = v != 0
		}
	})
	return o, archived, err
}

func encodeTrade(t *ledger.Trade) []byte {
	var b []byte
	b = putInt(b, 1, t.ID)
	b = putInt(b, 2, t.MatchID)
	b = putInt(b, 3, t.OrderID)
	b = putString(b, 4, t.Trader)
	b = putString(b, 5, t.Market)
	b = putString(b, 6, t.Contr)
	b = putInt(b, 7, int64(t.SettlDay))
	b = putString(b, 8, t.Ref)
	b = putInt(b, 9, int64(t.Side))
	b = putInt(b, 10, t.Ticks)
	b = putInt(b, 11, t.Lots)
	b = putInt(b, 12, t.Resd)
	b = putInt(b, 13, t.Exec)
	b = putInt(b, 14, t.MinLots)
	b = putInt(b, 15, int64(t.Rev))
	b = putInt(b, 16, int64(t.Status))
	b = putInt(b, 17, t.LastLots)
	b = putInt(b, 18, t.LastTicks)
	b = putInt(b, 19, int64(t.Role))
	b = putString(b, 20, t.Cpty)
	b = putTime(b, 21, t.Created)
	b = putBool(b, 22, t.Archived)
	return b
}

func decodeTrade(b []byte) (t ledger.Trade, err error) {
	err = fields(b, func(n protowire.Number, v int64, s []byte) {
		switch n {
		case 1:
			t.ID = v
		case 2:
			t.MatchID = v
		case 3:
			t.OrderID = v
		case 4:
			t.Trader = string(s)
		case 5:
			t.Market = string(s)
		case 6:
			t.Contr = string(s)
		case 7:
			t.SettlDay = int32(v)
		case 8:
			t.Ref = string(s)
		case 9:
			t.Side = orderbook.Side(v)
		case 10:
			t.Ticks = v
		case 11:
			t.Lots = v
		case 12:
			t.Resd = v
		case 13:
			t.Exec = v
		case 14:
			t.MinLots = v
		case 15:
			t.Rev = int32(v)
		case 16:
			t.Status = orderbook.Status(v)
		case 17:
			t.LastLots = v
		case 18:
			t.LastTicks = v
		case 19:
			t.Role = ledger.Role(v)
		case 20:
			t.Cpty = string(s)
		case 21:
			t.Created = unixTime(v)
		case 22:
			t.Archived = v != 0
		}
	})
	return t, err
}

// update is an order state change.
type update struct {
	ID     int64
	Rev    int32
	Status orderbook.Status
	Resd   int64
	Exec   int64
	Lots   int64
	Now    time.Time
}

func (u update) apply(o *orderbook.Order) {
	o.Rev = u.Rev
	o.Status = u.Status
	o.Resd = u.Resd
	o.Exec = u.Exec
	o.Lots = u.Lots
	o.Modified = u.Now
}

func encodeUpdate(u update) []byte {
	var b []byte
	b = putInt(b, 1, u.ID)
	b = putInt(b, 2, int64(u.Rev))
	b = putInt(b, 3, int64(u.Status))
	b = putInt(b, 4, u.Resd)
	b = putInt(b, 5, u.Exec)
	b = putInt(b, 6, u.Lots)
	b = putTime(b, 7, u.Now)
	return b
}

func decodeUpdate(b []byte) (u update, err error) {
	err = fields(b, func(n protowire.Number, v int64, _ []byte) {
		switch n {
		case 1:
			u.ID = v
		case 2:
			u.Rev = int32(v)
		case 3:
			u.Status = orderbook.Status(v)
		case 4:
			u.Resd = v
		case 5:
			u.Exec = v
		case 6:
			u.Lots = v
		case 7:
			u.Now = unixTime(v)
		}
	})
	return u, err
}

// encodeID carries a bare identifier, for archive and commit records.
func encodeID(id int64) []byte {
	return putInt(nil, 1, id)
}

func decodeID(b []byte) (id int64, err error) {
	err = fields(b, func(n protowire.Number, v int64, _ []byte) {
		if n == 1 {
			id = v
		}
	})
	return id, err
}
