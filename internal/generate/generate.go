// Package generate builds synthetic trade datasets for trying out replays.
package generate

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

const (
	// PatternSteady spreads trades evenly over the duration.
	PatternSteady = "steady"
	// PatternBurst clusters trades into bursts with quiet gaps.
	PatternBurst = "burst"
	// PatternRamp makes trades denser as time goes on.
	PatternRamp = "ramp"
)

// DefaultSymbols is used when Options.Symbols is empty.
var DefaultSymbols = []string{"BTC-USD", "ETH-USD", "SOL-USD"}

// Trade is one synthetic trade. The struct tags define the Parquet schema.
type Trade struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(millisecond)"`
	TradeID   string    `parquet:"trade_id"`
	Symbol    string    `parquet:"symbol"`
	Side      string    `parquet:"side"`
	Price     float64   `parquet:"price"`
	Size      float64   `parquet:"size"`
}

// Record converts the trade to a dataset record.
func (t Trade) Record() dataset.Record {
	return dataset.Record{
		Timestamp: t.Timestamp,
		Fields: map[string]any{
			"trade_id": t.TradeID,
			"symbol":   t.Symbol,
			"side":     t.Side,
			"price":    t.Price,
			"size":     t.Size,
		},
	}
}

// Options controls how synthetic trades are generated.
type Options struct {
	Count    int
	Symbols  []string
	Duration time.Duration
	Pattern  string
	Start    time.Time
	Seed     int64
	// Resolution truncates timestamps so that trades share ticks.
	Resolution time.Duration
	// StartPrice seeds every symbol's random walk.
	StartPrice decimal.Decimal
}

// DefaultOptions returns the defaults used by the generate command.
func DefaultOptions() Options {
	return Options{
		Count:      1000,
		Symbols:    DefaultSymbols,
		Duration:   time.Minute,
		Pattern:    PatternSteady,
		Resolution: 100 * time.Millisecond,
		StartPrice: decimal.NewFromInt(100),
	}
}

// Trades generates opts.Count trades sorted by timestamp.
func Trades(opts Options) ([]Trade, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}
	if opts.Resolution < 0 {
		return nil, fmt.Errorf("resolution must not be negative, got %s", opts.Resolution)
	}
	if opts.StartPrice.IsNegative() {
		return nil, fmt.Errorf("start price must not be negative, got %s", opts.StartPrice)
	}
	if opts.StartPrice.IsZero() {
		opts.StartPrice = decimal.NewFromInt(100)
	}

	if opts.Pattern == "" {
		opts.Pattern = PatternSteady
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC().Truncate(time.Second)
	}
	if len(opts.Symbols) == 0 {
		opts.Symbols = DefaultSymbols
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	var times []time.Time
	switch opts.Pattern {
	case PatternBurst:
		times = burstTimes(rng, opts.Start, opts.Count, opts.Duration)
	case PatternRamp:
		times = rampTimes(opts.Start, opts.Count, opts.Duration)
	case PatternSteady:
		times = steadyTimes(opts.Start, opts.Count, opts.Duration)
	default:
		return nil, fmt.Errorf("unknown pattern %q", opts.Pattern)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	prices := make(map[string]decimal.Decimal, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		prices[sym] = opts.StartPrice
	}

	trades := make([]Trade, len(times))
	for i, ts := range times {
		if opts.Resolution > 0 {
			ts = ts.Truncate(opts.Resolution)
		}
		sym := opts.Symbols[rng.Intn(len(opts.Symbols))]
		price := walk(rng, prices[sym])
		prices[sym] = price

		side := "buy"
		if rng.Intn(2) == 1 {
			side = "sell"
		}
		trades[i] = Trade{
			Timestamp: ts,
			TradeID:   fmt.Sprintf("T%08d", i+1),
			Symbol:    sym,
			Side:      side,
			Price:     price.InexactFloat64(),
			Size:      randomSize(rng).InexactFloat64(),
		}
	}
	return trades, nil
}

// Records converts trades to dataset records.
func Records(trades []Trade) []dataset.Record {
	out := make([]dataset.Record, len(trades))
	for i, t := range trades {
		out[i] = t.Record()
	}
	return out
}

// WriteFile writes trades in the format implied by path's extension.
func WriteFile(path string, trades []Trade) error {
	format, err := dataset.FormatFromPath(path)
	if err != nil {
		return err
	}
	if format == dataset.FormatParquet {
		if err := parquet.WriteFile(path, trades); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	records := Records(trades)
	if format == dataset.FormatNDJSON {
		err = dataset.WriteNDJSON(f, records)
	} else {
		err = dataset.WriteJSON(f, records)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// maxStepBps bounds each price move, in basis points.
const maxStepBps = 50

var (
	tenK     = decimal.NewFromInt(10000)
	minPrice = decimal.New(1, -2)
)

// walk moves price by a random step of at most maxStepBps, rounded to cents.
func walk(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	bps := decimal.NewFromInt(int64(rng.Intn(2*maxStepBps+1) - maxStepBps))
	next := price.Add(price.Mul(bps).Div(tenK)).Round(2)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}

// randomSize returns a size between 0.0001 and 2 with four decimals.
func randomSize(rng *rand.Rand) decimal.Decimal {
	return decimal.New(int64(rng.Intn(20000))+1, -4)
}

func steadyTimes(start time.Time, count int, dur time.Duration) []time.Time {
	interval := dur / time.Duration(count)
	times := make([]time.Time, count)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * interval)
	}
	return times
}

func burstTimes(rng *rand.Rand, start time.Time, count int, dur time.Duration) []time.Time {
	times := make([]time.Time, 0, count)
	numBursts := 4
	burstSize := count / numBursts
	burstGap := dur / time.Duration(numBursts)
	burstLen := min(time.Second, burstGap)

	for b := 0; b < numBursts; b++ {
		burstStart := start.Add(time.Duration(b) * burstGap)
		for i := 0; i < burstSize; i++ {
			times = append(times, burstStart.Add(time.Duration(rng.Int63n(int64(burstLen)))))
		}
	}
	for len(times) < count {
		times = append(times, start.Add(time.Duration(rng.Int63n(int64(dur)))))
	}
	return times
}

func rampTimes(start time.Time, count int, dur time.Duration) []time.Time {
	times := make([]time.Time, count)
	for i := range times {
		frac := float64(i) / float64(count)
		// sqrt spacing: gaps shrink as i grows
		times[i] = start.Add(time.Duration(math.Sqrt(frac) * float64(dur)))
	}
	return times
}
