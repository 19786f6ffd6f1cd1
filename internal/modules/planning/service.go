package planning

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/scoring"
	"github.com/aristath/helmsman/internal/modules/sequences/filters"
	"github.com/aristath/helmsman/internal/modules/sequences/generators"
	"github.com/aristath/helmsman/internal/modules/sequences/patterns"
)

// SelfTriggerCap bounds the API-driven batch chain. The cap is safety,
// not semantics: hitting it logs a warning and stops.
const SelfTriggerCap = 100000

// ContextSource builds the portfolio context for a planning pass.
type ContextSource interface {
	Build(ctx context.Context) (*opportunities.PortfolioContext, error)
}

// MetricsSource supplies the per-symbol metric cache for scoring.
type MetricsSource interface {
	Metrics(ctx context.Context, symbols []string) (map[string]scoring.Metrics, error)
}

// NextBatchTrigger requests the next batch in API-driven mode.
// Best-effort: failures fall back to the scheduler re-entering the
// planner. In-process deployments may call the service directly.
type NextBatchTrigger func(ctx context.Context, portfolioHash string, depth int)

// Config is the planner's runtime configuration.
type Config struct {
	BatchSize    int // Scheduled mode
	BatchSizeAPI int // Request-driven mode
	RiskProfile  scoring.RiskProfile
}

// Service is the incremental planner.
type Service struct {
	repo          *Repository
	contexts      ContextSource
	metrics       MetricsSource
	opportunities *opportunities.Registry
	patterns      *patterns.Registry
	generators    *generators.Registry
	filters       *filters.Registry
	bus           *events.Bus
	trigger       NextBatchTrigger
	cfg           Config
	log           zerolog.Logger
}

// NewService creates a planner service.
func NewService(repo *Repository, contexts ContextSource, metrics MetricsSource,
	opps *opportunities.Registry, pats *patterns.Registry, gens *generators.Registry,
	fils *filters.Registry, bus *events.Bus, trigger NextBatchTrigger,
	cfg Config, log zerolog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchSizeAPI <= 0 {
		cfg.BatchSizeAPI = 5
	}
	if cfg.RiskProfile == "" {
		cfg.RiskProfile = scoring.ProfileBalanced
	}
	return &Service{
		repo:          repo,
		contexts:      contexts,
		metrics:       metrics,
		opportunities: opps,
		patterns:      pats,
		generators:    gens,
		filters:       fils,
		bus:           bus,
		trigger:       trigger,
		cfg:           cfg,
		log:           log.With().Str("service", "planner").Logger(),
	}
}

// CurrentHash computes the portfolio hash for the current state.
func (s *Service) CurrentHash(ctx context.Context) (string, error) {
	pctx, err := s.contexts.Build(ctx)
	if err != nil {
		return "", err
	}
	return s.hashFor(pctx), nil
}

func (s *Service) hashFor(pctx *opportunities.PortfolioContext) string {
	symbols := make([]string, 0, len(pctx.Securities))
	for _, sec := range pctx.Securities {
		if sec.Active {
			symbols = append(symbols, sec.Symbol)
		}
	}
	return PortfolioHash(pctx.Positions, symbols, nil)
}

// ProcessBatch runs one planner increment: ensure sequences exist for the
// current hash, evaluate one bounded batch, emit progress. depth > 0
// marks API-driven mode (smaller batches, self-trigger).
func (s *Service) ProcessBatch(ctx context.Context, depth int) error {
	pctx, err := s.contexts.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build portfolio context: %w", err)
	}
	portfolioHash := s.hashFor(pctx)

	hasSequences, err := s.repo.HasSequences(ctx, portfolioHash)
	if err != nil {
		return err
	}
	if !hasSequences {
		if err := s.generateSequences(ctx, pctx, portfolioHash); err != nil {
			return err
		}
	}

	batchSize := s.cfg.BatchSize
	if depth > 0 {
		batchSize = s.cfg.BatchSizeAPI
	}
	if err := s.evaluateBatch(ctx, pctx, portfolioHash, batchSize); err != nil {
		return err
	}

	s.emitProgress(ctx, portfolioHash)

	finished, err := s.repo.AreAllSequencesEvaluated(ctx, portfolioHash)
	if err != nil {
		return err
	}
	if depth > 0 && !finished && s.trigger != nil {
		if depth < SelfTriggerCap {
			s.trigger(ctx, portfolioHash, depth+1)
		} else {
			s.log.Warn().Int("depth", depth).Msg("Planner self-trigger cap reached, stopping batch chain")
		}
	}
	return nil
}

// generateSequences runs calculators, patterns, generators and filters,
// and persists the result under the hash.
func (s *Service) generateSequences(ctx context.Context, pctx *opportunities.PortfolioContext, portfolioHash string) error {
	byCategory := s.opportunities.CalculateByName(ctx, pctx)
	var flat []domain.ActionCandidate
	for _, candidates := range byCategory {
		flat = append(flat, candidates...)
	}

	runtime := map[string]any{"available_cash_eur": pctx.AvailableCashEUR}
	seqs := s.patterns.GenerateAll(byCategory, runtime)
	seqs = append(seqs, s.generators.GenerateAll(flat, runtime)...)
	seqs = s.filters.FilterAll(seqs, nil)

	// Normalize ordering defensively; generators already emit sells first.
	for i, seq := range seqs {
		seqs[i] = patterns.SellsFirst(seq)
	}

	persisted, err := s.repo.PersistSequences(ctx, portfolioHash, seqs)
	if err != nil {
		return err
	}
	s.log.Info().Int("sequences", persisted).Str("hash", shortHash(portfolioHash)).
		Msg("Planner sequences generated")
	s.bus.Emit(events.PlannerSequencesGenerated, &events.SequencesGeneratedData{
		PortfolioHash: shortHash(portfolioHash),
		Count:         persisted,
	})
	return nil
}

// evaluateBatch scores up to batchSize unevaluated sequences.
func (s *Service) evaluateBatch(ctx context.Context, pctx *opportunities.PortfolioContext,
	portfolioHash string, batchSize int) error {

	batch, err := s.repo.GetUnevaluated(ctx, portfolioHash, batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	symbols := make(map[string]bool)
	for _, pos := range pctx.Positions {
		symbols[pos.Symbol] = true
	}
	for _, seq := range batch {
		for _, a := range seq {
			symbols[a.Symbol] = true
		}
	}
	symbolList := make([]string, 0, len(symbols))
	for sym := range symbols {
		symbolList = append(symbolList, sym)
	}
	metricsCache, err := s.metrics.Metrics(ctx, symbolList)
	if err != nil {
		s.log.Warn().Err(err).Msg("Metrics lookup failed, scoring with defaults")
		metricsCache = map[string]scoring.Metrics{}
	}

	for seqHash, seq := range batch {
		score := s.scoreSequence(pctx, seq, metricsCache)
		if err := s.repo.MarkSequenceEvaluated(ctx, portfolioHash, seqHash, score); err != nil {
			return err
		}
	}
	return nil
}

// scoreSequence simulates the sequence against the current portfolio and
// computes the end-state score of the resulting position set.
func (s *Service) scoreSequence(pctx *opportunities.PortfolioContext, seq domain.Sequence,
	metricsCache map[string]scoring.Metrics) float64 {

	positions := make(map[string]float64, len(pctx.Positions))
	for _, pos := range pctx.Positions {
		positions[pos.Symbol] = pos.MarketValueEUR
	}
	cash := pctx.AvailableCashEUR

	for _, action := range seq {
		switch action.Side {
		case domain.SideSell:
			positions[action.Symbol] = math.Max(0, positions[action.Symbol]-action.ValueEUR)
			cash += action.ValueEUR
		case domain.SideBuy:
			if action.ValueEUR > cash {
				// Infeasible step: this buy is skipped and the remaining
				// steps are still applied.
				continue
			}
			positions[action.Symbol] += action.ValueEUR
			cash -= action.ValueEUR
		}
	}

	var totalValue float64
	for symbol, value := range positions {
		if value <= 0 {
			delete(positions, symbol)
			continue
		}
		totalValue += value
	}
	totalValue += math.Max(0, cash)

	return scoring.EndStateScore(scoring.EndStateInput{
		Positions:            positions,
		TotalValue:           totalValue,
		DiversificationScore: diversificationScore(positions, totalValue),
		MetricsCache:         metricsCache,
		Profile:              s.cfg.RiskProfile,
	})
}

// diversificationScore is the normalized effective-N of position weights:
// 0 for a single concentrated position, approaching 1 as holdings spread.
func diversificationScore(positions map[string]float64, totalValue float64) float64 {
	if totalValue <= 0 || len(positions) == 0 {
		return 0
	}
	var hhi float64
	for _, value := range positions {
		w := value / totalValue
		hhi += w * w
	}
	if hhi <= 0 {
		return 0
	}
	effectiveN := 1.0 / hhi
	// 10 effectively-equal positions count as fully diversified.
	return math.Min(1.0, (effectiveN-1.0)/9.0)
}

// BestNextAction returns the first step of the best evaluated sequence as
// a pending recommendation, or ErrNotFound.
func (s *Service) BestNextAction(ctx context.Context) (*domain.Recommendation, error) {
	hash, err := s.CurrentHash(ctx)
	if err != nil {
		return nil, err
	}
	best, err := s.repo.GetBestResult(ctx, hash)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.GetBestSequenceFromHash(ctx, hash, best.SequenceHash)
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, domain.ErrNotFound
	}

	step := seq[0]
	return &domain.Recommendation{
		Symbol:         step.Symbol,
		Name:           step.Name,
		Side:           step.Side,
		Quantity:       step.Quantity,
		EstimatedPrice: step.Price,
		EstimatedValue: step.ValueEUR,
		Reason:         step.Reason,
		Currency:       step.Currency,
		Status:         domain.StatusPending,
	}, nil
}

// Progress returns the current planner progress block for a hash.
func (s *Service) Progress(ctx context.Context, portfolioHash string, isPlanning bool) (*events.PlannerProgress, error) {
	hasSequences, err := s.repo.HasSequences(ctx, portfolioHash)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.GetTotalSequenceCount(ctx, portfolioHash)
	if err != nil {
		return nil, err
	}
	evaluated, err := s.repo.GetEvaluationCount(ctx, portfolioHash)
	if err != nil {
		return nil, err
	}
	finished, err := s.repo.AreAllSequencesEvaluated(ctx, portfolioHash)
	if err != nil {
		return nil, err
	}

	progress := 0.0
	if total > 0 {
		progress = float64(evaluated) / float64(total) * 100.0
	}
	return &events.PlannerProgress{
		HasSequences:       hasSequences,
		TotalSequences:     total,
		EvaluatedCount:     evaluated,
		IsPlanning:         isPlanning,
		IsFinished:         finished,
		PortfolioHash:      shortHash(portfolioHash),
		ProgressPercentage: math.Round(progress*10) / 10,
	}, nil
}

func (s *Service) emitProgress(ctx context.Context, portfolioHash string) {
	progress, err := s.Progress(ctx, portfolioHash, true)
	if err != nil {
		s.log.Debug().Err(err).Msg("Could not compute planner progress")
		return
	}
	progress.IsPlanning = progress.HasSequences && !progress.IsFinished
	s.bus.Emit(events.PlannerBatchComplete, progress)
}

// Repo exposes the repository for the execution loop's direct queries.
func (s *Service) Repo() *Repository { return s.repo }

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
