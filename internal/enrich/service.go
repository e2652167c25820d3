// Package enrich は記事の日本語要約と日本語の説明文を生成する。
//
// 要約はLLMの一括呼び出しで作り、日本語になっていない出力は翻訳プロバイダで補修し、
// それでも補修できない場合はタイトルからの規則変換で埋める。どの経路でも空の要約は返さない。
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/devfeed/internal/cache"
	"github.com/hitoshi/devfeed/internal/extract"
	"github.com/hitoshi/devfeed/internal/metrics"
	"github.com/hitoshi/devfeed/internal/model"
)

const (
	// MaxItems は1回の呼び出しで処理する記事数の上限。超えた分は無視する。
	MaxItems = 20
	// DefaultContextConcurrency は記事ページ取得の同時実行数。
	DefaultContextConcurrency = 4
	// DefaultRetryConcurrency は1件ずつの翻訳再試行の同時実行数。
	DefaultRetryConcurrency = 4
	// DefaultLLMMaxTokens は一括要約の出力トークン上限。
	DefaultLLMMaxTokens = 4000

	contextMaxRunes      = 6000
	promptContextRunes   = 3000
	excerptRunes         = 800
	fastExcerptRunes     = 400
	descriptionSeedRunes = 220

	contextFetchTimeout = 6 * time.Second
	translateTimeout    = 15 * time.Second
	llmTimeout          = 22 * time.Second
	fastLLMTimeout      = 12 * time.Second
)

// 結果のプロバイダ名。LLMと翻訳プロバイダの場合はそれぞれの名前を使う。
const (
	ProviderCache     = "cache"
	ProviderFallback  = "fallback"
	ProviderHeuristic = "heuristic"
)

var errEmptyResponse = errors.New("LLMの応答を解釈できませんでした")

// Options は要約処理の設定。ゼロ値の項目は既定値を使う。
type Options struct {
	// Fast は記事ページの取得と1件ずつの翻訳再試行を省く。
	Fast               bool
	ContextConcurrency int
	RetryConcurrency   int
	LLMTimeout         time.Duration
	LLMMaxTokens       int
	Gate               LanguageGate
	Finalizer          Finalizer
}

// Result は要約の結果。
type Result struct {
	Items    []model.EnrichedItem `json:"items"`
	Provider string               `json:"provider,omitempty"`
}

// Service は記事の要約を生成し、結果をキャッシュする。
type Service struct {
	llm      LLM
	chain    *Chain
	contexts ContextFetcher
	cache    *cache.Enrichments
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	opts     Options
	usage    func(Completion)
	now      func() time.Time
}

// NewService はServiceを生成する。llm・chain・contextsはnilでもよい。
func NewService(
	llm LLM,
	chain *Chain,
	contexts ContextFetcher,
	enrichments *cache.Enrichments,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if opts.ContextConcurrency <= 0 {
		opts.ContextConcurrency = DefaultContextConcurrency
	}
	if opts.RetryConcurrency <= 0 {
		opts.RetryConcurrency = DefaultRetryConcurrency
	}
	if opts.LLMMaxTokens <= 0 {
		opts.LLMMaxTokens = DefaultLLMMaxTokens
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = llmTimeout
		if opts.Fast {
			opts.LLMTimeout = fastLLMTimeout
		}
	}
	if opts.Gate == (LanguageGate{}) {
		opts.Gate = DefaultGate()
	}

	s := &Service{
		llm:      llm,
		chain:    chain,
		contexts: contexts,
		cache:    enrichments,
		metrics:  collector,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
	if llm != nil {
		s.usage = UsageRecorder(collector, logger, llm.Model())
	}
	return s
}

// Enrich は記事ごとに日本語の要約と説明文を返す。
// 全件がキャッシュ済みならキャッシュをそのまま返す。エラーは返さず、失敗時も記事ごとに空でない要約を返す。
func (s *Service) Enrich(ctx context.Context, inputs []model.EnrichInput) Result {
	items := normalizeInputs(inputs)
	if len(items) == 0 {
		return Result{Items: []model.EnrichedItem{}}
	}

	start := time.Now()
	now := s.now()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	cached := s.cache.GetMany(ctx, ids, now)
	var missing []model.EnrichInput
	for _, it := range items {
		if _, ok := cached[it.ID]; !ok {
			missing = append(missing, it)
		}
	}
	if len(missing) == 0 {
		s.metrics.RecordEnrichment(ProviderCache, len(items))
		return Result{Items: mergeResults(items, cached, nil), Provider: ProviderCache}
	}

	computed, provider := s.compute(ctx, missing)
	if provider != ProviderFallback {
		records := make([]model.EnrichmentRecord, 0, len(missing))
		for _, it := range missing {
			records = append(records, s.cache.NewRecord(computed[it.ID], provider, now))
		}
		s.cache.PutMany(ctx, records)
	}
	s.metrics.RecordEnrichment(provider, len(missing))

	s.logger.Info("要約を生成しました",
		slog.String("provider", provider),
		slog.Int("items", len(missing)),
		slog.Int("cached", len(cached)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return Result{Items: mergeResults(items, cached, computed), Provider: provider}
}

// work は1記事分の処理中の状態。
type work struct {
	input       model.EnrichInput
	summary     string
	summaryEn   string
	description string
}

// compute はキャッシュにない記事の要約を生成し、結果とプロバイダ名を返す。
func (s *Service) compute(ctx context.Context, items []model.EnrichInput) (map[string]model.EnrichedItem, string) {
	if s.llm == nil && s.chain.Empty() {
		return s.fallback(items), ProviderFallback
	}

	contexts := s.gatherContexts(ctx, items)

	provider := ""
	drafts := map[string]draft{}
	if s.llm != nil {
		d, err := s.summarize(ctx, items, contexts)
		if err != nil {
			s.logger.Warn("LLMによる要約に失敗したため代替手段で要約します",
				slog.String("provider", s.llm.Name()),
				slog.String("error", err.Error()),
			)
		} else {
			drafts = d
			provider = s.llm.Name()
		}
	}

	works := make([]*work, len(items))
	for i, it := range items {
		works[i] = s.seed(it, drafts[it.ID], contexts[it.ID], provider == "")
	}

	translatedBy := s.repair(ctx, works)
	switch {
	case provider != "":
	case translatedBy != "":
		provider = translatedBy
	default:
		provider = ProviderHeuristic
	}

	out := make(map[string]model.EnrichedItem, len(works))
	for _, w := range works {
		// 整形で日本語の部分が落ちた場合も規則変換に切り替える
		summary := s.opts.Finalizer.Finalize(w.summary)
		if !s.opts.Gate.Passes(summary) {
			summary = s.opts.Finalizer.Finalize(s.ruleSummary(w.input.Title))
		}
		out[w.input.ID] = model.EnrichedItem{
			ID:            w.input.ID,
			SummaryJa:     summary,
			SummaryEn:     CleanSummary(w.summaryEn),
			DescriptionJa: CleanSummary(w.description),
		}
	}
	return out, provider
}

// seed はLLMの結果、なければ本文から要約と説明文の下書きを作る。
// keySentence がtrueの場合は翻訳に向く英文を採点して選ぶ。
func (s *Service) seed(it model.EnrichInput, d draft, body string, keySentence bool) *work {
	w := &work{input: it, summary: d.SummaryJa, summaryEn: d.SummaryEn, description: d.DescriptionJa}

	base := body
	if base == "" {
		base = it.Excerpt
	}
	if w.summary == "" {
		if keySentence {
			w.summary = PickKeySentence(base, it.Title)
		} else {
			w.summary = heuristicSummary(base)
		}
		if w.summary == "" {
			w.summary = it.Title
		}
		if w.summaryEn == "" && !ContainsJapanese(w.summary) {
			w.summaryEn = w.summary
		}
	}

	if w.description == "" {
		w.description = SanitizeForModel(extract.DecodeEntities(it.Excerpt))
	}
	if w.description == "" {
		w.description = extract.TruncateRunes(body, descriptionSeedRunes)
	}
	return w
}

// fallback はLLMも翻訳もない場合に、抜粋またはタイトルをそのまま要約とする。
func (s *Service) fallback(items []model.EnrichInput) map[string]model.EnrichedItem {
	out := make(map[string]model.EnrichedItem, len(items))
	for _, it := range items {
		text := extract.CollapseSpace(it.Excerpt)
		if text == "" {
			text = extract.CollapseSpace(it.Title)
		}
		if text == "" {
			text = model.NoTitle
		}
		out[it.ID] = model.EnrichedItem{
			ID:            it.ID,
			SummaryJa:     extract.TruncateRunes(text, s.opts.Finalizer.maxRunes()),
			DescriptionJa: it.Excerpt,
		}
	}
	return out
}

// gatherContexts は記事ページを取得して本文を抽出する。高速モードでは何もしない。
func (s *Service) gatherContexts(ctx context.Context, items []model.EnrichInput) map[string]string {
	out := make(map[string]string)
	if s.opts.Fast || s.contexts == nil {
		return out
	}

	var mu sync.Mutex
	runLimited(ctx, s.opts.ContextConcurrency, len(items), func(i int) {
		it := items[i]
		if it.URL == "" {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, contextFetchTimeout)
		defer cancel()

		html, err := s.contexts.FetchHTML(cctx, it.URL)
		if err != nil {
			s.logger.Debug("記事ページの取得に失敗しました",
				slog.String("url", it.URL),
				slog.String("error", err.Error()),
			)
			return
		}
		if text := extract.ExtractContext(html, contextMaxRunes); text != "" {
			mu.Lock()
			out[it.ID] = text
			mu.Unlock()
		}
	})
	return out
}

// summarize はLLMに全記事をまとめて要約させる。
func (s *Service) summarize(ctx context.Context, items []model.EnrichInput, contexts map[string]string) (map[string]draft, error) {
	limit := excerptRunes
	if s.opts.Fast {
		limit = fastExcerptRunes
	}

	shaped := make([]promptItem, len(items))
	for i, it := range items {
		excerpt := it.Excerpt
		if extract.CollapseSpace(excerpt) == "" {
			excerpt = it.Title
		}
		p := promptItem{
			ID:      it.ID,
			Title:   it.Title,
			Excerpt: extract.TruncateRunes(SanitizeForModel(extract.DecodeEntities(excerpt)), limit),
		}
		if !s.opts.Fast {
			p.Content = extract.TruncateRunes(contexts[it.ID], promptContextRunes)
		}
		shaped[i] = p
	}

	lctx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()

	c, err := s.llm.Complete(lctx, buildBatchPrompt(shaped, s.opts.LLMMaxTokens))
	if err != nil {
		return nil, err
	}
	s.usage(c)

	drafts := decodeDrafts(c.Text)
	if len(drafts) == 0 {
		return nil, errEmptyResponse
	}
	return drafts, nil
}

// repair は日本語と判定されない要約と説明文を翻訳で置き換え、残りを規則変換で埋める。
// 翻訳に成功したプロバイダ名を返す。
func (s *Service) repair(ctx context.Context, works []*work) string {
	var pending []*string
	for _, w := range works {
		if !s.opts.Gate.Passes(w.summary) {
			pending = append(pending, &w.summary)
		}
		if w.description != "" && !s.opts.Gate.Passes(w.description) {
			pending = append(pending, &w.description)
		}
	}

	usedBy := ""
	if len(pending) > 0 && !s.chain.Empty() {
		usedBy = s.translateBatch(ctx, pending)
		if !s.opts.Fast {
			if name := s.translateEach(ctx, pending); usedBy == "" {
				usedBy = name
			}
		}
	}

	for _, w := range works {
		if !s.opts.Gate.Passes(w.summary) {
			w.summary = s.ruleSummary(w.input.Title)
		}
		if !s.opts.Gate.Passes(w.description) {
			w.description = RuleDescription(w.input.Title)
		}
	}
	return usedBy
}

func (s *Service) ruleSummary(title string) string {
	return RuleSummaryWithin(title, s.opts.Finalizer.maxRunes())
}

// translateBatch は未翻訳のフィールドをまとめて翻訳し、日本語と判定された訳文だけを反映する。
func (s *Service) translateBatch(ctx context.Context, fields []*string) string {
	texts := make([]string, len(fields))
	for i, f := range fields {
		texts[i] = *f
	}

	tctx, cancel := context.WithTimeout(ctx, translateTimeout)
	defer cancel()

	out, name, err := s.chain.Translate(tctx, texts)
	if err != nil {
		return ""
	}
	applied := false
	for i, f := range fields {
		if s.opts.Gate.Passes(out[i]) {
			*f = out[i]
			applied = true
		}
	}
	if !applied {
		return ""
	}
	return name
}

// translateEach はまだ日本語になっていないフィールドを1件ずつ翻訳し直す。
func (s *Service) translateEach(ctx context.Context, fields []*string) string {
	var mu sync.Mutex
	usedBy := ""

	runLimited(ctx, s.opts.RetryConcurrency, len(fields), func(i int) {
		f := fields[i]
		if s.opts.Gate.Passes(*f) {
			return
		}
		tctx, cancel := context.WithTimeout(ctx, translateTimeout)
		defer cancel()

		out, name, err := s.chain.Translate(tctx, []string{*f})
		if err != nil || !s.opts.Gate.Passes(out[0]) {
			return
		}
		*f = out[0]
		mu.Lock()
		if usedBy == "" {
			usedBy = name
		}
		mu.Unlock()
	})
	return usedBy
}

// runLimited はfnを最大n並列でcount回実行し、すべての完了を待つ。
func runLimited(ctx context.Context, n, count int, fn func(i int)) {
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// normalizeInputs は上限件数で切り、IDのない記事と重複IDを除く。
func normalizeInputs(inputs []model.EnrichInput) []model.EnrichInput {
	if len(inputs) > MaxItems {
		inputs = inputs[:MaxItems]
	}
	seen := make(map[string]bool, len(inputs))
	out := make([]model.EnrichInput, 0, len(inputs))
	for _, it := range inputs {
		if it.ID == "" || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

func mergeResults(items []model.EnrichInput, cached map[string]model.EnrichmentRecord, computed map[string]model.EnrichedItem) []model.EnrichedItem {
	out := make([]model.EnrichedItem, 0, len(items))
	for _, it := range items {
		if rec, ok := cached[it.ID]; ok {
			out = append(out, rec.Item())
			continue
		}
		if item, ok := computed[it.ID]; ok {
			out = append(out, item)
		}
	}
	return out
}
