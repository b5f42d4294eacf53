// Package runner drives a batch of URLs through the probe, classify,
// submit and record stages, rotating credentials as their quotas drain.
package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seoworks/indexer-cli/internal/classify"
	"github.com/seoworks/indexer-cli/internal/credential"
	"github.com/seoworks/indexer-cli/internal/model"
	"github.com/seoworks/indexer-cli/internal/monitoring"
	"github.com/seoworks/indexer-cli/internal/probe"
	"github.com/seoworks/indexer-cli/internal/sink"
	"github.com/seoworks/indexer-cli/pkg/indexing"
)

// DefaultSubmitRate is the submission pacing in requests per second.
const DefaultSubmitRate = 10

// Options tunes a single batch run.
type Options struct {
	// RunID is stamped on every outcome the batch produces.
	RunID string

	// SubmitRate caps Indexing API calls per second. Zero or negative
	// falls back to DefaultSubmitRate.
	SubmitRate float64

	// DryRun probes and classifies but never submits.
	DryRun bool
}

// Runner executes one batch of entries strictly in input order. Every
// entry produces exactly one outcome, whatever happens to the run.
type Runner struct {
	prober  probe.Prober
	client  indexing.Client
	pool    *credential.Pool
	out     sink.Sink
	metrics *monitoring.Metrics
	limiter *rate.Limiter
	runID   string
	dryRun  bool
	now     func() time.Time
}

// New assembles a runner. metrics may be nil.
func New(prober probe.Prober, client indexing.Client, pool *credential.Pool, out sink.Sink, metrics *monitoring.Metrics, opts Options) *Runner {
	rps := opts.SubmitRate
	if rps <= 0 {
		rps = DefaultSubmitRate
	}
	return &Runner{
		prober:  prober,
		client:  client,
		pool:    pool,
		out:     out,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		runID:   opts.RunID,
		dryRun:  opts.DryRun,
		now:     time.Now,
	}
}

// Run processes the entries and returns the batch summary. The error is
// non-nil only when the run was cut short by context cancellation; quota
// exhaustion is reported through summary.Exhausted instead. Outcomes for
// entries the run never reached are still recorded as unsubmitted.
func (r *Runner) Run(ctx context.Context, entries []model.Entry) (*model.RunSummary, error) {
	log := zap.L().With(zap.String("run_id", r.runID))
	summary := &model.RunSummary{StartedAt: r.now().UTC()}
	sinkErrs := 0

	hosts := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Host != "" {
			hosts[e.Host] = struct{}{}
		}
	}

	// Outcome writes must survive cancellation or the audit trail would
	// miss exactly the entries a cancelled run left behind.
	recordCtx := context.WithoutCancel(ctx)

	record := func(o model.Outcome) {
		o.RunID = r.runID
		o.CreatedAt = r.now().UTC()
		summary.Observe(o)
		if o.Host != "" {
			hosts[o.Host] = struct{}{}
		}
		r.metrics.IncOutcomesTotal(string(o.Result))
		if o.Result == model.ResultSubmitted {
			r.metrics.IncSubmissionsTotal(string(o.Action))
		}
		r.metrics.SetQuotaRemaining(float64(r.pool.Remaining()))
		if err := r.out.Record(recordCtx, o); err != nil {
			sinkErrs++
			r.metrics.IncErrorsTotal("sink_record")
			log.Warn("runner: record outcome",
				zap.String("url", o.URL),
				zap.Error(err))
		}
	}

	drain := func(rest []model.Entry, seq int, detail string) {
		for j, e := range rest {
			o := model.Outcome{
				Seq:    seq + j,
				URL:    e.URL,
				Host:   e.Host,
				Result: model.ResultUnsubmitted,
				Detail: detail,
			}
			if action, status, ok := resolveHint(e); ok {
				o.Action = action
				o.StatusCode = status
			}
			record(o)
		}
	}

	log.Info("runner: starting batch",
		zap.Int("urls", len(entries)),
		zap.Int("domains", len(hosts)),
		zap.Int("credentials", r.pool.Size()),
		zap.Int("quota_remaining", r.pool.Remaining()),
		zap.Bool("dry_run", r.dryRun))

	var runErr error
	for i := 0; i < len(entries); i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			drain(entries[i:], i, "run cancelled")
			break
		}
		o, err := r.process(ctx, entries[i], i, log)
		record(o)
		if err == nil {
			continue
		}
		if errors.Is(err, credential.ErrExhausted) {
			summary.Exhausted = true
			log.Warn("runner: credential pool exhausted",
				zap.Int("processed", i+1),
				zap.Int("remaining", len(entries)-i-1))
			drain(entries[i+1:], i+1, "credential pool exhausted")
			break
		}
		runErr = err
		drain(entries[i+1:], i+1, "run cancelled")
		break
	}

	summary.Domains = len(hosts)
	summary.FinishedAt = r.now().UTC()

	log.Info("runner: batch complete",
		zap.Int("total", summary.Total),
		zap.Int("submitted", summary.Submitted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("unsubmitted", summary.Unsubmitted),
		zap.Int("domains", summary.Domains),
		zap.Int("quota_used", summary.QuotaUsed),
		zap.Bool("exhausted", summary.Exhausted),
		zap.Int("sink_errors", sinkErrs),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary, runErr
}

// process handles a single entry. The returned error is
// credential.ErrExhausted when the pool ran dry before this entry could
// be submitted, or the context error when the run was cancelled while
// working on it; either way the outcome still describes the entry.
func (r *Runner) process(ctx context.Context, e model.Entry, seq int, log *zap.Logger) (model.Outcome, error) {
	o := model.Outcome{Seq: seq, URL: e.URL, Host: e.Host}

	action, status, hinted := resolveHint(e)
	if !hinted {
		pr := r.prober.Probe(ctx, e.URL)
		r.metrics.IncProbesTotal(pr.StatusCode)
		if err := ctx.Err(); err != nil {
			o.Result = model.ResultUnsubmitted
			o.Detail = "run cancelled"
			return o, err
		}
		status = pr.StatusCode
		action = classify.Classify(pr.StatusCode)
		o.Detail = pr.Detail
	}
	o.Action = action
	o.StatusCode = status

	if !action.Submittable() {
		o.Result = model.ResultSkipped
		log.Debug("runner: skipping url",
			zap.String("url", e.URL),
			zap.Int("status", status),
			zap.String("action", string(action)))
		return o, nil
	}

	if r.dryRun {
		o.Result = model.ResultSkipped
		o.Detail = "dry run"
		return o, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		o.Result = model.ResultUnsubmitted
		o.Detail = "run cancelled"
		return o, ctx.Err()
	}

	cred, err := r.pool.Current()
	if err != nil {
		o.Result = model.ResultUnsubmitted
		o.Detail = "credential pool exhausted"
		return o, err
	}

	notified, err := r.publish(ctx, cred, e.URL, action)
	if err == nil {
		return r.submitted(o, cred, notified, log), nil
	}
	if cerr := ctx.Err(); cerr != nil {
		o.Result = model.ResultUnsubmitted
		o.Detail = "run cancelled"
		return o, cerr
	}
	if !indexing.IsCredentialError(err) {
		return r.failed(o, cred, err, log), nil
	}

	// The API rejected this credential outright. Spend it and give the
	// entry one retry against whatever the pool surfaces next.
	r.pool.MarkExhausted(cred.ID)
	r.metrics.IncErrorsTotal("credential_rejected")
	log.Warn("runner: credential rejected, rotating",
		zap.String("credential", cred.ID),
		zap.String("url", e.URL),
		zap.Error(err))

	next, perr := r.pool.Current()
	if perr != nil {
		o.Result = model.ResultUnsubmitted
		o.Detail = "credential pool exhausted"
		return o, perr
	}

	notified, err = r.publish(ctx, next, e.URL, action)
	if err == nil {
		return r.submitted(o, next, notified, log), nil
	}
	if cerr := ctx.Err(); cerr != nil {
		o.Result = model.ResultUnsubmitted
		o.Detail = "run cancelled"
		return o, cerr
	}
	if indexing.IsCredentialError(err) {
		r.pool.MarkExhausted(next.ID)
		r.metrics.IncErrorsTotal("credential_rejected")
		log.Warn("runner: retry credential rejected",
			zap.String("credential", next.ID),
			zap.String("url", e.URL),
			zap.Error(err))
	}
	return r.failed(o, next, err, log), nil
}

// publish runs one submission attempt with the given credential.
func (r *Runner) publish(ctx context.Context, cred *credential.Credential, url string, action model.Action) (*time.Time, error) {
	token, err := cred.Token()
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Publish(ctx, token, indexing.Notification{URL: url, Type: string(action)})
	if err != nil {
		return nil, err
	}
	if t, ok := resp.NotifyTime(string(action)); ok {
		return &t, nil
	}
	return nil, nil
}

func (r *Runner) submitted(o model.Outcome, cred *credential.Credential, notified *time.Time, log *zap.Logger) model.Outcome {
	if err := r.pool.Consume(1); err != nil {
		log.Warn("runner: consume quota", zap.Error(err))
	}
	o.Result = model.ResultSubmitted
	o.Credential = cred.ID
	o.NotifiedAt = notified
	log.Debug("runner: url submitted",
		zap.String("url", o.URL),
		zap.String("action", string(o.Action)),
		zap.String("credential", cred.ID),
		zap.Int("quota_remaining", r.pool.Remaining()))
	return o
}

func (r *Runner) failed(o model.Outcome, cred *credential.Credential, err error, log *zap.Logger) model.Outcome {
	o.Result = model.ResultFailed
	o.Credential = cred.ID
	o.Detail = err.Error()
	r.metrics.IncErrorsTotal("submit_failed")
	log.Warn("runner: submission failed",
		zap.String("url", o.URL),
		zap.String("credential", cred.ID),
		zap.Error(err))
	return o
}

// resolveHint maps an entry's hints to an action and status code without
// probing. ok is false when the entry carries no hint and must be probed.
func resolveHint(e model.Entry) (model.Action, int, bool) {
	if e.HintAction != "" {
		return e.HintAction, 0, true
	}
	if e.HintStatus != nil {
		return classify.Classify(*e.HintStatus), *e.HintStatus, true
	}
	return "", 0, false
}
