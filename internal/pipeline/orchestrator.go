package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hakim/connprobe/internal/models"
	"github.com/hakim/connprobe/internal/probe"
	"github.com/hakim/connprobe/internal/transcript"
)

// StoreInterface is the minimal bbolt contract required by the orchestrator.
// Using an interface keeps the package testable without a real database.
type StoreInterface interface {
	SaveRun(rec *models.RunRecord) error
}

// Options controls how RunDiagnostic behaves for a single run. The zero
// value probes with the platform resolver and dialer and the default
// stage timeouts.
type Options struct {
	// Resolver defaults to the platform resolver.
	Resolver probe.Resolver

	// Dialer is used for both the bulk probe and the detailed connect.
	// Defaults to a plain net.Dialer.
	Dialer probe.Dialer

	Reach    probe.ReachOptions
	TLS      probe.TLSOptions
	Greeting probe.GreetingOptions

	// Scope, when set, restricts the target hostname and every resolved
	// address. A violation aborts the run.
	Scope *ScopeConfig

	// Store persists the run record when non-nil. Storage failures are
	// logged and never change the outcome.
	Store StoreInterface

	// Transcript lets the caller subscribe before the run starts. A fresh
	// one is created when nil. It must not be shared between runs.
	Transcript *transcript.Transcript

	// OnStageStart is called immediately before each stage executes.
	// index is 0-based; total is the number of stages.
	OnStageStart func(name string, index, total int)

	// OnStageDone is called immediately after each stage returns (or panics).
	OnStageDone func(name string, index, total int, rec StageRecord)
}

// StageRecord is the outcome of one stage.
type StageRecord struct {
	Name    string             `json:"name"`
	Status  models.StageStatus `json:"status"`
	Kind    probe.Kind         `json:"kind,omitempty"`
	Detail  string             `json:"detail,omitempty"`
	Elapsed time.Duration      `json:"elapsed"`
}

// Result is what RunDiagnostic produces. It is never nil and always carries
// the transcript, whether the run succeeded or aborted.
type Result struct {
	Target    models.ProbeTarget
	RunID     string
	State     models.State
	FailedAt  models.State
	Err       error
	Stages    []StageRecord
	Addresses []models.ResolvedAddress
	Probes    []models.AddressProbeResult
	TLS       *models.TLSSessionInfo
	Greeting  *models.GreetingResult

	Transcript *transcript.Transcript
	StartedAt  time.Time
	Elapsed    time.Duration
}

// Success reports whether the run reached the summary.
func (r *Result) Success() bool {
	return r.State == models.StateSummarized
}

// Lines returns the transcript lines.
func (r *Result) Lines() []string {
	return r.Transcript.Lines()
}

// Kind returns the error kind of an aborted run, or "".
func (r *Result) Kind() probe.Kind {
	return probe.KindOf(r.Err)
}

// Record converts the result into its persisted form.
func (r *Result) Record() *models.RunRecord {
	rec := &models.RunRecord{
		ID:         r.RunID,
		Host:       r.Target.Host,
		Port:       r.Target.Port,
		StartedAt:  r.StartedAt,
		Status:     models.StatusRunning,
		FinalState: r.State,
		FailedAt:   r.FailedAt,
		Addresses:  r.Addresses,
		Probes:     r.Probes,
		TLS:        r.TLS,
		Greeting:   r.Greeting,
		Transcript: r.Transcript.Lines(),
	}
	if r.State.Terminal() {
		done := r.StartedAt.Add(r.Elapsed)
		rec.CompletedAt = &done
		rec.Status = models.StatusSuccess
	}
	if r.Err != nil {
		rec.Status = models.StatusAborted
		rec.ErrorKind = string(probe.KindOf(r.Err))
		rec.Error = r.Err.Error()
	}
	return rec
}

// stageOutcome is what a stage reports back: success, a warning carrying
// a non-fatal kind, or a fatal error.
type stageOutcome struct {
	status models.StageStatus
	kind   probe.Kind
	detail string
	err    error
}

func success(format string, args ...any) stageOutcome {
	return stageOutcome{status: models.StageSuccess, detail: fmt.Sprintf(format, args...)}
}

func warning(k probe.Kind, format string, args ...any) stageOutcome {
	return stageOutcome{status: models.StageWarning, kind: k, detail: fmt.Sprintf(format, args...)}
}

func fatal(err error) stageOutcome {
	return stageOutcome{status: models.StageFatal, kind: probe.KindOf(err), err: err}
}

// stage pairs a name with the state reached when it does not fail.
type stage struct {
	Name string
	Next models.State
	Run  func(ctx context.Context) stageOutcome
}

// runner carries the per-run state threaded through the stages.
type runner struct {
	opts   Options
	target models.ProbeTarget
	rec    *transcript.Transcript
	result *Result
	handle *probe.Handle
}

// RunDiagnostic probes target through every stage in order.
//
// State machine:
//
//	Start → Resolved → Probed → Connected → TlsEstablished → GreetingAttempted → Summarized
//
// A fatal outcome moves the run to Aborted from whatever state it is in,
// appends the error kind and message to the transcript and returns the
// error, which is always a *probe.Error. Warnings are recorded and the run
// continues. The returned Result is never nil.
//
// Crash isolation:
//
//	Each stage is wrapped in a deferred recover so a panicking stage is
//	recorded as a StagePanic abort and the transcript is still returned.
//
// The connection opened by the detailed connect is closed exactly once on
// every path.
func RunDiagnostic(ctx context.Context, target models.ProbeTarget, opts Options) (*Result, error) {
	if opts.Resolver == nil {
		opts.Resolver = probe.SystemResolver()
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	rec := opts.Transcript
	if rec == nil {
		rec = transcript.New()
	}
	if target.Timeout == 0 {
		target.Timeout = models.DefaultTimeout
	}

	record := models.NewRunRecord(target)
	r := &runner{
		opts:   opts,
		target: target,
		rec:    rec,
		result: &Result{
			Target:     target,
			RunID:      record.ID,
			State:      models.StateStart,
			Transcript: rec,
			StartedAt:  record.StartedAt,
		},
	}
	defer r.closeHandle()

	logger := log.With().Str("run_id", record.ID).Str("target", target.String()).Logger()

	rec.Add("=== Network Connectivity Test Started ===")
	rec.Addf("Timestamp: %s UTC", record.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	rec.Blank()
	rec.Addf("Configuration: Server=%s, Port=%d, Timeout=%ss", target.Host, target.Port, seconds(target.Timeout))
	rec.Blank()

	if err := r.precheck(); err != nil {
		r.abort(err)
		r.finish(logger)
		return r.result, r.result.Err
	}

	r.save(logger)

	rec.Addf("[*] Testing connectivity to: %s", target)
	rec.Addf("[*] Timeout: %s seconds", seconds(target.Timeout))
	rec.Blank()

	stages := []stage{
		{Name: "resolve", Next: models.StateResolved, Run: r.resolve},
		{Name: "reach", Next: models.StateProbed, Run: r.reach},
		{Name: "connect", Next: models.StateConnected, Run: r.connect},
		{Name: "tls", Next: models.StateTLSEstablished, Run: r.handshake},
		{Name: "greeting", Next: models.StateGreetingAttempted, Run: r.greeting},
	}
	total := len(stages)

	for i, s := range stages {
		if opts.OnStageStart != nil {
			opts.OnStageStart(s.Name, i, total)
		}
		logger.Debug().Str("stage", s.Name).Msg("stage started")

		start := time.Now()
		out := runStageIsolated(ctx, s)
		sr := StageRecord{
			Name:    s.Name,
			Status:  out.status,
			Kind:    out.kind,
			Detail:  out.detail,
			Elapsed: time.Since(start),
		}
		if out.err != nil {
			sr.Detail = out.err.Error()
		}
		r.result.Stages = append(r.result.Stages, sr)

		logger.Debug().
			Str("stage", s.Name).
			Str("status", string(sr.Status)).
			Str("kind", string(sr.Kind)).
			Dur("elapsed", sr.Elapsed).
			Msg("stage finished")

		if opts.OnStageDone != nil {
			opts.OnStageDone(s.Name, i, total, sr)
		}

		if out.status == models.StageFatal {
			r.abort(out.err)
			r.finish(logger)
			return r.result, r.result.Err
		}
		r.result.State = s.Next
	}

	r.summarize()
	r.finish(logger)
	return r.result, nil
}

// runStageIsolated runs a single stage inside a deferred recover so that a
// panic in stage code is caught and returned as a fatal outcome rather than
// crashing the caller.
func runStageIsolated(ctx context.Context, s stage) (out stageOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = fatal(probe.NewError(probe.StagePanic, nil, "stage %q panicked: %v", s.Name, rec))
		}
	}()
	return s.Run(ctx)
}

// precheck validates the target and its hostname scope before any network
// activity.
func (r *runner) precheck() error {
	if err := r.target.Validate(); err != nil {
		return probe.NewError(probe.InvalidTarget, err, "invalid target %s", r.target)
	}
	if r.opts.Scope != nil {
		if err := r.opts.Scope.ValidateTarget(r.target.Host); err != nil {
			return probe.NewError(probe.ScopeViolation, err, "target %s rejected", r.target.Host)
		}
	}
	return nil
}

func (r *runner) resolve(ctx context.Context) stageOutcome {
	addrs, err := probe.Resolve(ctx, r.rec, r.opts.Resolver, r.target.Host)
	if err != nil {
		return fatal(err)
	}
	r.result.Addresses = addrs

	if r.opts.Scope != nil {
		for _, a := range addrs {
			if err := r.opts.Scope.ValidateIP(a.String()); err != nil {
				r.rec.Addf("[x] %s is outside the allowed scope", a)
				return fatal(probe.NewError(probe.ScopeViolation, err, "resolved address %s rejected", a))
			}
		}
	}
	return success("%d addresses", len(addrs))
}

func (r *runner) reach(ctx context.Context) stageOutcome {
	report, err := probe.ProbeAll(ctx, r.rec, r.opts.Dialer, r.result.Addresses, r.target.Port, r.opts.Reach)
	if report != nil {
		r.result.Probes = report.Results
	}
	if err != nil {
		return fatal(err)
	}
	if report.Status() == models.StageWarning {
		return warning(probe.PartialAddressUnreachable, "%d/%d addresses failed", len(report.Failed), len(report.Results))
	}
	return success("%d addresses reachable", len(report.Reachable))
}

func (r *runner) connect(ctx context.Context) stageOutcome {
	h, err := probe.Connect(ctx, r.rec, r.opts.Dialer, r.target.Host, r.target.Port, r.target.EffectiveTimeout())
	if err != nil {
		return fatal(err)
	}
	r.handle = h
	return success("connected to %s", h.Conn().RemoteAddr())
}

func (r *runner) handshake(ctx context.Context) stageOutcome {
	info, err := probe.Handshake(ctx, r.rec, r.handle, r.target.Host, r.opts.TLS)
	if err != nil {
		return fatal(err)
	}
	r.result.TLS = info
	return success("%s %s", info.Protocol, info.CipherSuite)
}

func (r *runner) greeting(ctx context.Context) stageOutcome {
	g := probe.ReadGreeting(ctx, r.rec, r.handle, r.opts.Greeting)
	r.result.Greeting = g
	if k := probe.GreetingKind(g.Status); k != "" {
		return warning(k, "greeting %s", g.Status)
	}
	return success("%d bytes", g.Bytes)
}

// summarize writes the closing block. Its last four lines are fixed.
func (r *runner) summarize() {
	r.rec.Add("=== Test Summary ===")
	r.rec.Add("[+] All connectivity tests passed!")
	r.rec.Addf("   Server: %s", r.target)
	r.rec.Add("   Status: REACHABLE")
	r.rec.Add("   SSL/TLS: WORKING")
	r.rec.Add("   Server Protocol: RESPONDING")
	r.result.State = models.StateSummarized
}

// abort records err as the run's failure. Only kind and message are
// written; causes stay in the returned error chain.
func (r *runner) abort(err error) {
	var perr *probe.Error
	if !errors.As(err, &perr) {
		perr = probe.NewError(probe.ConnectionError, err, "%v", err)
	}
	r.result.FailedAt = r.result.State
	r.result.State = models.StateAborted
	r.result.Err = perr

	r.rec.Blank()
	r.rec.Addf("[x] Test failed: %s", perr.Kind)
	r.rec.Addf("Message: %s", perr.Error())
}

func (r *runner) finish(logger zerolog.Logger) {
	r.closeHandle()
	r.result.Elapsed = time.Since(r.result.StartedAt)

	ev := logger.Info()
	if r.result.Err != nil {
		ev = logger.Warn().Str("kind", string(probe.KindOf(r.result.Err))).Str("failed_at", string(r.result.FailedAt))
	}
	ev.Str("state", string(r.result.State)).Dur("elapsed", r.result.Elapsed).Msg("diagnostic finished")

	r.save(logger)
}

// save persists the current record. Non-fatal.
func (r *runner) save(logger zerolog.Logger) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.SaveRun(r.result.Record()); err != nil {
		logger.Warn().Err(err).Msg("could not persist run record")
	}
}

func (r *runner) closeHandle() {
	if r.handle != nil {
		_ = r.handle.Close()
	}
}

// seconds renders d as a plain number of seconds ("30", "2.5").
func seconds(d time.Duration) string {
	return fmt.Sprintf("%g", d.Seconds())
}
