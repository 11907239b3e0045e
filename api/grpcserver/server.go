// Package grpcserver adapts the engine to gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"kestrel/domain/ledger"
	"kestrel/domain/orderbook"
	"kestrel/infra/memory"
	"kestrel/infra/prioq"
	"kestrel/infra/refdata"
	"kestrel/service"
)

// Server implements Exchange over an Engine.
type Server struct {
	eng *service.Engine
	cat *refdata.Catalog
	now func() time.Time
	log *zap.Logger
}

func NewServer(eng *service.Engine, cat *refdata.Catalog, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{eng: eng, cat: cat, now: time.Now, log: log.Named("grpc")}
}

// -------------------- Commands --------------------

func (s *Server) Submit(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	side, err := parseSide(str(req, "side"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r := service.SubmitRequest{
		Trader:  str(req, "trader"),
		Market:  str(req, "market"),
		Ref:     str(req, "ref"),
		Side:    side,
		Ticks:   num(req, "ticks"),
		Lots:    num(req, "lots"),
		MinLots: num(req, "min_lots"),
	}
	o, err := s.eng.Submit(r, s.now())
	if err != nil {
		return nil, s.fail("submit", err, zap.String("trader", r.Trader), zap.String("market", r.Market))
	}
	s.log.Info("submit",
		zap.Int64("id", o.ID),
		zap.String("trader", o.Trader),
		zap.String("market", o.Market),
		zap.Stringer("side", o.Side),
		zap.Int64("ticks", o.Ticks),
		zap.Int64("lots", o.Lots),
		zap.Stringer("status", o.Status))
	return s.reply(map[string]any{"order": s.orderView(o)})
}

// Revise accepts one of id, ref or ids.
func (s *Server) Revise(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	trader, lots, now := str(req, "trader"), num(req, "lots"), s.now()

	var (
		orders []orderbook.Order
		err    error
	)
	switch {
	case has(req, "ids"):
		orders, err = s.eng.ReviseIDs(trader, ids(req), lots, now)
	case has(req, "ref"):
		var o orderbook.Order
		o, err = s.eng.ReviseByRef(trader, str(req, "ref"), lots, now)
		orders = []orderbook.Order{o}
	default:
		var o orderbook.Order
		o, err = s.eng.ReviseByID(trader, num(req, "id"), lots, now)
		orders = []orderbook.Order{o}
	}
	if err != nil {
		return nil, s.fail("revise", err, zap.String("trader", trader))
	}
	s.log.Info("revise", zap.String("trader", trader), zap.Int("orders", len(orders)), zap.Int64("lots", lots))
	return s.reply(map[string]any{"orders": s.orderViews(orders)})
}

// Cancel accepts one of id, ref, ids or all.
func (s *Server) Cancel(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	trader, now := str(req, "trader"), s.now()

	var (
		orders []orderbook.Order
		err    error
	)
	switch {
	case flag(req, "all"):
		orders, err = s.eng.CancelAll(trader, now)
	case has(req, "ids"):
		orders, err = s.eng.CancelIDs(trader, ids(req), now)
	case has(req, "ref"):
		var o orderbook.Order
		o, err = s.eng.CancelByRef(trader, str(req, "ref"), now)
		orders = []orderbook.Order{o}
	default:
		var o orderbook.Order
		o, err = s.eng.CancelByID(trader, num(req, "id"), now)
		orders = []orderbook.Order{o}
	}
	if err != nil {
		return nil, s.fail("cancel", err, zap.String("trader", trader))
	}
	s.log.Info("cancel", zap.String("trader", trader), zap.Int("orders", len(orders)))
	return s.reply(map[string]any{"orders": s.orderViews(orders)})
}

func (s *Server) CancelMarket(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	market := str(req, "market")
	orders, err := s.eng.CancelMarket(market, s.now())
	if err != nil {
		return nil, s.fail("cancel market", err, zap.String("market", market))
	}
	s.log.Info("cancel market", zap.String("market", market), zap.Int("orders", len(orders)))
	return s.reply(map[string]any{"orders": s.orderViews(orders)})
}

// Archive accepts one of order_id, trade_id or all.
func (s *Server) Archive(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	trader, now := str(req, "trader"), s.now()

	var (
		n   int
		ok  bool
		err error
	)
	switch {
	case flag(req, "all"):
		n, err = s.eng.ArchiveAll(trader, now)
		ok = n > 0
	case has(req, "trade_id"):
		ok, err = s.eng.ArchiveTrade(trader, num(req, "trade_id"), now)
	default:
		ok, err = s.eng.ArchiveOrder(trader, num(req, "order_id"), now)
	}
	if err != nil {
		return nil, s.fail("archive", err, zap.String("trader", trader))
	}
	if ok && n == 0 {
		n = 1
	}
	s.log.Info("archive", zap.String("trader", trader), zap.Int("records", n))
	return s.reply(map[string]any{"archived": ok, "count": n})
}

// -------------------- Queries --------------------

func (s *Server) GetOrder(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	trader := str(req, "trader")
	var (
		o   orderbook.Order
		err error
	)
	if has(req, "ref") {
		o, err = s.eng.OrderByRef(trader, str(req, "ref"))
	} else {
		o, err = s.eng.Order(trader, num(req, "id"))
	}
	if err != nil {
		return nil, s.fail("get order", err, zap.String("trader", trader))
	}
	return s.reply(map[string]any{"order": s.orderView(o)})
}

func (s *Server) ListOrders(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.reply(map[string]any{"orders": s.orderViews(s.eng.Orders(str(req, "trader")))})
}

func (s *Server) ListTrades(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	trades := s.eng.Trades(str(req, "trader"))
	out := make([]any, 0, len(trades))
	for _, t := range trades {
		out = append(out, s.tradeView(t))
	}
	return s.reply(map[string]any{"trades": out})
}

func (s *Server) ListPositions(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	posns := s.eng.Positions(str(req, "trader"))
	out := make([]any, 0, len(posns))
	for _, p := range posns {
		out = append(out, s.posnView(p))
	}
	return s.reply(map[string]any{"positions": out})
}

func (s *Server) GetDepth(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	market := str(req, "market")
	n := int(num(req, "levels"))
	if n <= 0 {
		n = 5
	}
	bids, offers, err := s.eng.Depth(market, n)
	if err != nil {
		return nil, s.fail("depth", err, zap.String("market", market))
	}
	m, _ := s.cat.Market(market)
	return s.reply(map[string]any{
		"market": market,
		"bids":   quoteViews(m, bids),
		"offers": quoteViews(m, offers),
	})
}

// -------------------- Views --------------------

func (s *Server) market(mnem string) refdata.Market {
	m, _ := s.cat.Market(mnem)
	return m
}

func (s *Server) orderView(o orderbook.Order) map[string]any {
	m := s.market(o.Market)
	return map[string]any{
		"id":         o.ID,
		"trader":     o.Trader,
		"market":     o.Market,
		"contr":      o.Contr,
		"settl_day":  o.SettlDay,
		"ref":        o.Ref,
		"side":       o.Side.String(),
		"ticks":      o.Ticks,
		"price":      m.Price(o.Ticks).String(),
		"lots":       o.Lots,
		"resd":       o.Resd,
		"exec":       o.Exec,
		"min_lots":   o.MinLots,
		"rev":        o.Rev,
		"status":     o.Status.String(),
		"last_lots":  o.LastLots,
		"last_ticks": o.LastTicks,
		"created":    o.Created.Format(time.RFC3339Nano),
		"modified":   o.Modified.Format(time.RFC3339Nano),
	}
}

func (s *Server) orderViews(orders []orderbook.Order) []any {
	out := make([]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.orderView(o))
	}
	return out
}

func (s *Server) tradeView(t ledger.Trade) map[string]any {
	m := s.market(t.Market)
	return map[string]any{
		"id":         t.ID,
		"match_id":   t.MatchID,
		"order_id":   t.OrderID,
		"trader":     t.Trader,
		"market":     t.Market,
		"side":       t.Side.String(),
		"role":       t.Role.String(),
		"cpty":       t.Cpty,
		"last_lots":  t.LastLots,
		"last_ticks": t.LastTicks,
		"price":      m.Price(t.LastTicks).String(),
		"status":     t.Status.String(),
		"created":    t.Created.Format(time.RFC3339Nano),
	}
}

func (s *Server) posnView(p ledger.Position) map[string]any {
	m := refdata.Market{TickSize: s.cat.TickSize(p.Key.Contr)}
	return map[string]any{
		"contr":      p.Key.Contr,
		"settl_day":  p.Key.SettlDay,
		"buy_lots":   p.BuyLots,
		"buy_licks":  p.BuyLicks,
		"buy_price":  m.Average(p.BuyLicks, p.BuyLots).String(),
		"sell_lots":  p.SellLots,
		"sell_licks": p.SellLicks,
		"sell_price": m.Average(p.SellLicks, p.SellLots).String(),
		"net_lots":   p.Net(),
	}
}

func quoteViews(m refdata.Market, qs []orderbook.Quote) []any {
	out := make([]any, 0, len(qs))
	for _, q := range qs {
		out = append(out, map[string]any{
			"ticks": q.Ticks,
			"price": m.Price(q.Ticks).String(),
			"lots":  q.Lots,
			"count": q.Count,
		})
	}
	return out
}

func (s *Server) reply(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// -------------------- Errors --------------------

func (s *Server) fail(op string, err error, fields ...zap.Field) error {
	code := Code(err)
	fields = append(fields, zap.Stringer("code", code), zap.Error(err))
	if code == codes.Unavailable || code == codes.Internal || code == codes.ResourceExhausted {
		s.log.Error(op, fields...)
	} else {
		s.log.Info(op+" rejected", fields...)
	}
	return status.Error(code, err.Error())
}

// Code maps an engine error to a gRPC status code.
func Code(err error) codes.Code {
	switch {
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrMarketNotFound),
		errors.Is(err, service.ErrTraderNotFound):
		return codes.NotFound
	case errors.Is(err, service.ErrRefExists):
		return codes.AlreadyExists
	case errors.Is(err, service.ErrMarketClosed),
		errors.Is(err, service.ErrOrderDone),
		errors.Is(err, service.ErrOrderNotDone):
		return codes.FailedPrecondition
	case errors.Is(err, service.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, memory.ErrOutOfMemory), errors.Is(err, prioq.ErrFull):
		return codes.ResourceExhausted
	case errors.Is(err, service.ErrJournal):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// -------------------- Converters --------------------

func parseSide(s string) (orderbook.Side, error) {
	switch strings.ToUpper(s) {
	case "BUY", "BID":
		return orderbook.Buy, nil
	case "SELL", "ASK", "OFFER":
		return orderbook.Sell, nil
	default:
		return 0, fmt.Errorf("invalid side %q", s)
	}
}

func has(req *structpb.Struct, key string) bool {
	_, ok := req.GetFields()[key]
	return ok
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func num(req *structpb.Struct, key string) int64 {
	return int64(req.GetFields()[key].GetNumberValue())
}

func flag(req *structpb.Struct, key string) bool {
	return req.GetFields()[key].GetBoolValue()
}

func ids(req *structpb.Struct) []int64 {
	vals := req.GetFields()["ids"].GetListValue().GetValues()
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		out = append(out, int64(v.GetNumberValue()))
	}
	return out
}
