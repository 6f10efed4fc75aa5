package feed

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"orderbook_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default weights of the synthetic feed's actions. Deletes take the rest.
const (
	DefaultNewWeight    = 0.6
	DefaultUpdateWeight = 0.3
)

const base58Chars = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var priceDelta = decimal.RequireFromString("0.25")

// Generator synthesizes order envelopes and tracks the orders it has in play.
// It is safe for concurrent use.
type Generator struct {
	mu           sync.Mutex
	rnd          *rand.Rand
	now          func() time.Time
	newWeight    float64
	updateWeight float64
	inPlay       []domain.Order
}

// NewGenerator creates a generator. A zero seed picks a random one.
func NewGenerator(seed uint64, newWeight, updateWeight float64, now func() time.Time) *Generator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	if newWeight <= 0 && updateWeight <= 0 {
		newWeight, updateWeight = DefaultNewWeight, DefaultUpdateWeight
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rnd:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:          now,
		newWeight:    newWeight,
		updateWeight: updateWeight,
	}
}

// InPlay returns how many generated orders are still tracked.
func (g *Generator) InPlay() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inPlay)
}

// NewOrderEnvelope synthesizes a fresh order and returns it as NEW_ORDER.
func (g *Generator) NewOrderEnvelope() domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newOrderLocked()
}

// Next picks an action by weight. Update and delete need at least one order
// in play and fall back to a new order otherwise.
func (g *Generator) Next() domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()

	roll := g.rnd.Float64()
	switch {
	case roll < g.newWeight || len(g.inPlay) == 0:
		return g.newOrderLocked()
	case roll < g.newWeight+g.updateWeight:
		return g.updateLocked()
	default:
		return g.deleteLocked()
	}
}

// Seed returns n fresh orders as one BATCH_ORDERS envelope.
func (g *Generator) Seed(n int) domain.Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch := make([]domain.Order, 0, n)
	for i := 0; i < n; i++ {
		env := g.newOrderLocked()
		batch = append(batch, *env.Order)
	}
	return domain.Envelope{Kind: domain.KindBatchOrders, Batch: batch, SentAt: g.now()}
}

func (g *Generator) newOrderLocked() domain.Envelope {
	side := domain.SideSell
	if g.rnd.IntN(2) == 0 {
		side = domain.SideBuy
	}
	status := domain.StatusOpen
	if g.rnd.IntN(2) == 0 {
		status = domain.StatusPending
	}

	ask := domain.RoundQuantity(decimal.NewFromFloat(g.rnd.Float64()*15 + 40))
	bid := domain.RoundQuantity(ask.Sub(decimal.NewFromFloat(g.rnd.Float64()*5 + 3)))
	size := domain.RoundQuantity(decimal.NewFromFloat(g.rnd.Float64()*3000 + 500))
	now := g.now()

	o := domain.Order{
		ID:                  uuid.NewString(),
		CreatedAt:           now,
		Side:                side,
		SequenceNumber:      g.rnd.IntN(10) + 1,
		CounterpartyAddress: g.walletAddress(),
		Size:                size,
		AskPrice:            ask,
		BidPrice:            bid,
		Status:              status,
	}
	o.AppendHistory(now, status)

	g.inPlay = append(g.inPlay, o)
	return domain.Envelope{Kind: domain.KindNewOrder, Order: ptrTo(o.Clone()), SentAt: now}
}

func (g *Generator) updateLocked() domain.Envelope {
	i := g.rnd.IntN(len(g.inPlay))
	o := g.inPlay[i].Clone()

	if g.rnd.IntN(2) == 0 {
		o.SetStatus(domain.StatusPartial)
	} else {
		o.AskPrice = perturb(o.AskPrice, g.rnd)
		o.BidPrice = perturb(o.BidPrice, g.rnd)
	}
	o.AppendHistory(g.now(), o.Status)

	g.inPlay[i] = o
	return domain.Envelope{Kind: domain.KindUpdateOrder, Order: ptrTo(o.Clone()), SentAt: g.now()}
}

func (g *Generator) deleteLocked() domain.Envelope {
	i := g.rnd.IntN(len(g.inPlay))
	o := g.inPlay[i]
	g.inPlay = append(g.inPlay[:i], g.inPlay[i+1:]...)
	return domain.Envelope{Kind: domain.KindDeleteOrder, Order: ptrTo(o.Clone()), SentAt: g.now()}
}

// perturb moves p by a random delta in [-0.25, 0.25], clamped at zero.
func perturb(p decimal.Decimal, rnd *rand.Rand) decimal.Decimal {
	delta := decimal.NewFromFloat(rnd.Float64()*2 - 1).Mul(priceDelta)
	out := domain.RoundQuantity(p.Add(delta))
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// walletAddress returns an SS58-style base58 address: prefix 5, 48 chars.
func (g *Generator) walletAddress() string {
	var b strings.Builder
	b.Grow(48)
	b.WriteByte('5')
	for i := 0; i < 47; i++ {
		b.WriteByte(base58Chars[g.rnd.IntN(len(base58Chars))])
	}
	return b.String()
}

func ptrTo(o domain.Order) *domain.Order {
	return &o
}
