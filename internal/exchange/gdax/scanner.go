package gdax

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piotras9000/gekko/internal/core"
	"github.com/piotras9000/gekko/internal/metrics"
	"github.com/piotras9000/gekko/internal/retry"
)

// scanPhase is the lifecycle state of a history scan.
type scanPhase string

const (
	phaseIdle     scanPhase = "idle"
	phaseBackward scanPhase = "scanning_backward"
	phaseForward  scanPhase = "scanning_forward"
	phaseDone     scanPhase = "done"
)

// validScanTransitions defines the allowed phase transitions. Key is the
// current phase, value is the list of valid next phases.
var validScanTransitions = map[scanPhase][]scanPhase{
	phaseIdle:     {phaseBackward},
	phaseBackward: {phaseForward, phaseDone, phaseIdle},
	phaseForward:  {phaseDone, phaseIdle},
	phaseDone:     {phaseIdle},
}

func canTransition(from, to scanPhase) bool {
	for _, target := range validScanTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// tradeSource is the slice of the REST client the scanner depends on.
type tradeSource interface {
	Trades(ctx context.Context, after int64, limit int) ([]core.Trade, error)
}

// scanDelay spaces page fetches so a long scan stays inside the public
// rate limit.
const scanDelay = 350 * time.Millisecond

// scanner assembles gap-free trade history from the paginated trades
// endpoint. It first hops backward through ever older pages until it finds
// one that reaches past the requested start time, then walks forward from
// that anchor re-fetching every page up to the newest trade. Every page
// fetch runs under the patient retry policy, so transient failures retry at
// the same cursor and only a fatal error abandons a scan.
type scanner struct {
	source tradeSource
	log    *zap.Logger

	pageSize int
	delay    time.Duration
	policy   retry.Policy

	mu    sync.Mutex
	phase scanPhase
}

func newScanner(source tradeSource, log *zap.Logger) *scanner {
	return &scanner{
		source:   source,
		log:      log,
		pageSize: tradePageSize,
		delay:    scanDelay,
		policy:   retry.Patient,
		phase:    phaseIdle,
	}
}

// Run returns the market's trades from since up to the newest trade, oldest
// first and without gaps. A zero since skips the scan and returns only the
// most recent page. Only one scan may run at a time; starting a second one
// fails with core.ErrScanActive.
func (s *scanner) Run(ctx context.Context, since time.Time) ([]core.Trade, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.reset()

	trades, err := s.run(ctx, since)
	if err != nil {
		metrics.Scans.WithLabelValues("aborted").Inc()
		return nil, err
	}
	metrics.Scans.WithLabelValues("completed").Inc()
	return trades, nil
}

func (s *scanner) run(ctx context.Context, since time.Time) ([]core.Trade, error) {
	direction := "backward"
	if since.IsZero() {
		direction = "latest"
	}
	page, err := s.fetchPage(ctx, 0, direction)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		s.setPhase(phaseDone)
		return nil, nil
	}
	if since.IsZero() {
		s.setPhase(phaseDone)
		return appendChronological(nil, page, 0), nil
	}

	s.log.Info("scanning trade history", zap.Time("since", since))

	var (
		anchor     int64
		lastNewest int64
		result     []core.Trade
		hops       int64
	)
	for {
		oldest := page[len(page)-1]
		if oldest.Timestamp.Before(since) {
			// Anchor page: the oldest trade predates since, so this page
			// and everything forward of it covers the requested range.
			anchor = oldest.ID
			result = appendChronological(result, page, 0)
			lastNewest = page[0].ID
			s.log.Debug("scan anchor found",
				zap.Int64("trade_id", anchor),
				zap.Time("at", oldest.Timestamp))
			break
		}
		cursor := oldest.ID - int64(s.pageSize)*hops
		hops++
		if hops > 100 {
			hops = 10
		}
		if cursor < 1 {
			cursor = 1
		}
		if err := sleepCtx(ctx, s.delay); err != nil {
			return nil, err
		}
		next, err := s.fetchPage(ctx, cursor, "backward")
		if err != nil {
			return nil, err
		}
		if len(next) == 0 {
			// Hopped past the start of the market's history: the empty page
			// means no trades exist below the cursor, so anchor there and
			// let the forward walk cover the range the hops skipped.
			anchor = cursor
			lastNewest = cursor - 1
			s.log.Debug("scan reached start of history", zap.Int64("anchor", anchor))
			break
		}
		page = next
	}

	s.setPhase(phaseForward)
	for {
		if err := sleepCtx(ctx, s.delay); err != nil {
			return nil, err
		}
		cursor := lastNewest + int64(s.pageSize) + 1
		page, err := s.fetchPage(ctx, cursor, "forward")
		if err != nil {
			return nil, err
		}
		if len(page) == 0 || page[0].ID == lastNewest {
			break
		}
		result = appendChronological(result, page, lastNewest)
		lastNewest = page[0].ID
	}

	s.setPhase(phaseDone)
	s.log.Info("scan complete",
		zap.Int64("anchor", anchor),
		zap.Int("trades", len(result)))
	return result, nil
}

// fetchPage retrieves one page, retrying transient failures at the same
// cursor. A fatal error surfaces to the caller and ends the scan.
func (s *scanner) fetchPage(ctx context.Context, after int64, direction string) ([]core.Trade, error) {
	var page []core.Trade
	err := retry.Do(ctx, s.log, s.policy, "scanPage", func(ctx context.Context) error {
		var err error
		page, err = s.source.Trades(ctx, after, s.pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.ScanPages.WithLabelValues(direction).Inc()
	return page, nil
}

// begin moves the scanner out of idle, failing when a scan already runs.
func (s *scanner) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseIdle {
		return core.ErrScanActive
	}
	s.phase = phaseBackward
	return nil
}

// reset returns the scanner to idle no matter where the scan stopped.
func (s *scanner) reset() {
	s.mu.Lock()
	s.phase = phaseIdle
	s.mu.Unlock()
}

func (s *scanner) setPhase(to scanPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.phase, to) {
		s.log.Warn("unexpected scan phase transition",
			zap.String("from", string(s.phase)),
			zap.String("to", string(to)))
	}
	s.phase = to
}

func (s *scanner) currentPhase() scanPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// appendChronological appends a newest-first page to dst oldest first,
// dropping trades at or below the floor id. The floor strips overlap when
// the head of the book moved between two page fetches.
func appendChronological(dst, page []core.Trade, floor int64) []core.Trade {
	for i := len(page) - 1; i >= 0; i-- {
		if page[i].ID <= floor {
			continue
		}
		dst = append(dst, page[i])
	}
	return dst
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
