package bitmex

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bhojpur/trades/internal/domain"
	"github.com/bhojpur/trades/internal/exchange"
	"github.com/bhojpur/trades/pkg/clock"
)

// defaultTickBufferSize bounds the rolling in-memory tick buffer. At a few
// hundred prints per minute per symbol this covers well over the two
// minutes ParseTicks looks back.
const defaultTickBufferSize = 100000

// TickBuffer is a bounded rolling buffer of recent trade prints, appended
// by the websocket worker and scanned by ParseTicks.
type TickBuffer struct {
	mu    sync.Mutex
	ticks []domain.Tick
	max   int
}

// NewTickBuffer creates a buffer holding at most max ticks.
func NewTickBuffer(max int) *TickBuffer {
	return &TickBuffer{max: max}
}

// Append adds ticks in arrival order, evicting the oldest beyond the
// bound.
func (b *TickBuffer) Append(ticks ...domain.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticks = append(b.ticks, ticks...)
	if len(b.ticks) > b.max {
		b.ticks = b.ticks[len(b.ticks)-b.max:]
	}
}

// Snapshot returns a copy of the buffered ticks, oldest first.
func (b *TickBuffer) Snapshot() []domain.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Tick, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// Len returns the number of buffered ticks.
func (b *TickBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ticks)
}

// ParseTicks folds the previous minute's buffered ticks into one OHLCV
// bar per symbol. The buffer is scanned newest to oldest collecting all
// ticks of the immediately preceding minute, plus the single boundary
// tick from the minute before that, whose price becomes the bar's open.
func (c *Client) ParseTicks() map[string]domain.Bar {
	all := c.ticks.Snapshot()
	targetMinute := c.clk.Now().Truncate(time.Minute).Add(-time.Minute)
	boundaryMinute := targetMinute.Add(-time.Minute)

	var window []domain.Tick
	for i := len(all) - 1; i >= 0; i-- {
		minute := all[i].Timestamp.Truncate(time.Minute)
		if minute.Equal(targetMinute) {
			window = append(window, all[i])
		}
		if minute.Equal(boundaryMinute) {
			window = append(window, all[i])
			break
		}
	}

	// Restore chronological order after the reverse scan.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}

	bySymbol := make(map[string][]domain.Tick, len(c.symbols))
	for _, symbol := range c.symbols {
		bySymbol[symbol] = nil
	}
	for _, tick := range window {
		if _, ok := bySymbol[tick.Symbol]; ok {
			bySymbol[tick.Symbol] = append(bySymbol[tick.Symbol], tick)
		}
	}

	bars := make(map[string]domain.Bar, len(c.symbols))
	for symbol, ticks := range bySymbol {
		if bar, ok := domain.BuildOHLCV(ticks, symbol); ok {
			bar.Timestamp = targetMinute.Unix()
			bars[symbol] = bar
		}
	}
	return bars
}

// GetRecentTicks fetches all trade prints for the minute starting n
// minutes before the end of the previous minute, paging through the
// venue's trade endpoint. Pages of exactly MaxTicksPerPage mean more
// data may follow; the first shorter page ends the poll. The accumulated
// window is validated before it is returned: the tick at the median
// index must fall in the expected minute, otherwise the data is
// inconsistent and ErrDataIntegrity is raised rather than silently
// returning mismatched data.
func (c *Client) GetRecentTicks(ctx context.Context, symbol string, n int) ([]domain.Tick, error) {
	startEpoch := clock.PreviousMinute(c.clk) + 60 - int64(n)*60
	startTime := time.Unix(startEpoch, 0).UTC()
	startISO := startTime.Format("2006-01-02T15:04:05")

	var (
		ticks    []domain.Tick
		rawTimes []string
	)

	page, raw, err := c.fetchTickPage(ctx, symbol, startISO)
	if err != nil {
		return nil, err
	}
	ticks = append(ticks, page...)
	rawTimes = append(rawTimes, raw...)

	for len(page) == MaxTicksPerPage {
		// Resume from the last seen timestamp. The venue treats
		// startTime as inclusive, so duplicates at the boundary are
		// filtered below with everything else outside the window.
		page, raw, err = c.fetchTickPage(ctx, symbol, rawTimes[len(rawTimes)-1])
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, page...)
		rawTimes = append(rawTimes, raw...)
	}

	if len(ticks) == 0 {
		return nil, fmt.Errorf("%w: no ticks for %s at %s", exchange.ErrDataUnavailable, symbol, startISO)
	}

	targetMinute := startTime.Truncate(time.Minute)
	median := ticks[len(ticks)/2]
	if !median.Timestamp.Truncate(time.Minute).Equal(targetMinute) {
		return nil, fmt.Errorf("%w: median tick at %s outside target minute %s",
			exchange.ErrDataIntegrity, median.Timestamp.Format(time.RFC3339), targetMinute.Format(time.RFC3339))
	}

	final := ticks[:0:0]
	for _, t := range ticks {
		if t.Timestamp.Truncate(time.Minute).Equal(targetMinute) {
			final = append(final, t)
		}
	}
	return final, nil
}

func (c *Client) fetchTickPage(ctx context.Context, symbol, startTime string) ([]domain.Tick, []string, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("count", fmt.Sprintf("%d", MaxTicksPerPage))
	query.Set("reverse", "false")
	query.Set("startTime", startTime)

	body, err := c.get(ctx, c.marketLimiter, ticksPath, query, false)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ticks for %s: %v", exchange.ErrDataUnavailable, symbol, err)
	}

	var payload []tickPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("failed to decode ticks: %w", err)
	}

	ticks := make([]domain.Tick, 0, len(payload))
	rawTimes := make([]string, 0, len(payload))
	for _, p := range payload {
		tick, err := p.toTick()
		if err != nil {
			return nil, nil, err
		}
		ticks = append(ticks, tick)
		rawTimes = append(rawTimes, p.Timestamp)
	}
	return ticks, rawTimes, nil
}
