package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"kestrel/infra/journal"
	"kestrel/infra/memory"
	"kestrel/infra/refdata"
	"kestrel/service"
)

var t0 = time.Date(2014, 3, 14, 9, 30, 0, 0, time.UTC)

type client struct {
	t  *testing.T
	cc *grpc.ClientConn
}

func start(t *testing.T) *client {
	t.Helper()
	cat, err := refdata.New(
		[]refdata.Market{
			{Mnem: "EURUSD.MAR14", Contr: "EURUSD", SettlDay: 20140320, TickSize: decimal.RequireFromString("0.0001")},
			{Mnem: "USDJPY.MAR14", Contr: "USDJPY", SettlDay: 20140320, TickSize: decimal.RequireFromString("0.01"), Closed: true},
		},
		[]refdata.Trader{{Mnem: "MARAYL"}, {Mnem: "GOSAYL"}},
	)
	require.NoError(t, err)

	j, err := journal.OpenPebble("db", &pebble.Options{FS: vfs.NewMem()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	api := NewServer(service.New(service.Config{}, j, cat), cat, zap.NewNop())
	api.now = func() time.Time { return t0 }

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, api)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return &client{t: t, cc: cc}
}

func (c *client) call(method string, req map[string]any) (*structpb.Struct, error) {
	c.t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Invoke(ctx, c.cc, method, in)
}

func (c *client) must(method string, req map[string]any) map[string]any {
	c.t.Helper()
	out, err := c.call(method, req)
	require.NoError(c.t, err)
	return out.AsMap()
}

func order(m map[string]any) map[string]any {
	return m["order"].(map[string]any)
}

func TestSubmitCrossesOverRPC(t *testing.T) {
	c := start(t)

	maker := order(c.must("Submit", map[string]any{
		"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "sell", "ticks": 12345, "lots": 10, "ref": "m1",
	}))
	assert.Equal(t, "NEW", maker["status"])
	assert.Equal(t, "1.2345", maker["price"])

	taker := order(c.must("Submit", map[string]any{
		"trader": "GOSAYL", "market": "EURUSD.MAR14", "side": "buy", "ticks": 12345, "lots": 4,
	}))
	assert.Equal(t, "FILLED", taker["status"])
	assert.Equal(t, 4.0, taker["exec"])

	depth := c.must("GetDepth", map[string]any{"market": "EURUSD.MAR14", "levels": 3})
	offers := depth["offers"].([]any)
	require.Len(t, offers, 1)
	assert.Equal(t, 6.0, offers[0].(map[string]any)["lots"])
	assert.Empty(t, depth["bids"])

	trades := c.must("ListTrades", map[string]any{"trader": "MARAYL"})["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "MAKER", trades[0].(map[string]any)["role"])
	assert.Equal(t, "GOSAYL", trades[0].(map[string]any)["cpty"])

	posns := c.must("ListPositions", map[string]any{"trader": "GOSAYL"})["positions"].([]any)
	require.Len(t, posns, 1)
	assert.Equal(t, "1.2345", posns[0].(map[string]any)["buy_price"])
	assert.Equal(t, 4.0, posns[0].(map[string]any)["net_lots"])
}

func TestReviseCancelArchiveByRef(t *testing.T) {
	c := start(t)
	c.must("Submit", map[string]any{
		"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "buy", "ticks": 12340, "lots": 10, "ref": "r1",
	})

	revised := c.must("Revise", map[string]any{"trader": "MARAYL", "ref": "r1", "lots": 7})["orders"].([]any)
	require.Len(t, revised, 1)
	assert.Equal(t, "REVISED", revised[0].(map[string]any)["status"])

	cancelled := c.must("Cancel", map[string]any{"trader": "MARAYL", "ref": "r1"})["orders"].([]any)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "CANCELLED", cancelled[0].(map[string]any)["status"])

	id := cancelled[0].(map[string]any)["id"]
	res := c.must("Archive", map[string]any{"trader": "MARAYL", "order_id": id})
	assert.Equal(t, true, res["archived"])

	res = c.must("Archive", map[string]any{"trader": "MARAYL", "order_id": id})
	assert.Equal(t, false, res["archived"])
	assert.Empty(t, c.must("ListOrders", map[string]any{"trader": "MARAYL"})["orders"])
}

func TestErrorsCarryStatusCodes(t *testing.T) {
	c := start(t)
	c.must("Submit", map[string]any{
		"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "buy", "ticks": 12340, "lots": 10, "ref": "dup",
	})

	cases := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"unknown market", "Submit", map[string]any{"trader": "MARAYL", "market": "XXX", "side": "buy", "ticks": 1, "lots": 1}, codes.NotFound},
		{"zero lots", "Submit", map[string]any{"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "buy", "ticks": 1, "lots": 0}, codes.InvalidArgument},
		{"bad side", "Submit", map[string]any{"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "up", "ticks": 1, "lots": 1}, codes.InvalidArgument},
		{"closed market", "Submit", map[string]any{"trader": "MARAYL", "market": "USDJPY.MAR14", "side": "buy", "ticks": 1, "lots": 1}, codes.FailedPrecondition},
		{"duplicate ref", "Submit", map[string]any{"trader": "MARAYL", "market": "EURUSD.MAR14", "side": "buy", "ticks": 1, "lots": 1, "ref": "dup"}, codes.AlreadyExists},
		{"missing order", "Cancel", map[string]any{"trader": "MARAYL", "id": 999}, codes.NotFound},
		{"unknown depth", "GetDepth", map[string]any{"market": "XXX"}, codes.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.call(tc.method, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w '7'", service.ErrOrderDone), codes.FailedPrecondition},
		{service.ErrInvalidTicks, codes.InvalidArgument},
		{fmt.Errorf("alloc: %w", memory.ErrOutOfMemory), codes.ResourceExhausted},
		{&service.JournalError{Op: "commit", Err: errors.New("disk full")}, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), tc.err.Error())
	}
}
