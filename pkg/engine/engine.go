package engine

import (
	"context"
	"errors"
	"fmt"
	"go/version"
	"reflect"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spindleworks/spindle/pkg/artifacts"
	"github.com/spindleworks/spindle/pkg/compiler"
	"github.com/spindleworks/spindle/pkg/config"
	"github.com/spindleworks/spindle/pkg/diagnostics"
	"github.com/spindleworks/spindle/pkg/identity"
	"github.com/spindleworks/spindle/pkg/loader"
	"github.com/spindleworks/spindle/pkg/mirror"
	"github.com/spindleworks/spindle/pkg/observability"
	"github.com/spindleworks/spindle/pkg/program"
)

// infraFaultKey is the single pass-wide artifact slot for faults not
// attributable to one expander call.
const infraFaultKey = "spindle.infrastructure-fault"

// passState tracks where the pass is in its lifecycle.
type passState int

const (
	statePending passState = iota
	stateIdle
	stateReady
	stateDegraded
	stateShortCircuit
)

// handle is one registration that resolved against the compiled module:
// the declaration plus its shape-checked entry method, built once and
// reused for every target.
type handle struct {
	decl  program.ExtensionDeclaration
	entry mirror.Entry
}

// Options configures a Pipeline. Zero-value fields get working defaults.
type Options struct {
	// Reporter receives every diagnostic the pass produces.
	Reporter diagnostics.Reporter
	// Artifacts receives every artifact the pass produces.
	Artifacts artifacts.Registry
	// Log is the pipeline logger.
	Log *logrus.Logger
	// Metrics records pass counters; nil disables recording.
	Metrics *observability.Metrics
	// MaxGoVersion is the supported host go directive upper bound.
	MaxGoVersion string
}

// Pipeline drives one expansion pass. It exclusively owns its compiled
// module; Close releases it. A Pipeline is not reusable across passes.
type Pipeline struct {
	passID   string
	prog     *program.Program
	decls    []program.ExtensionDeclaration
	reporter diagnostics.Reporter
	registry artifacts.Registry
	log      *logrus.Logger
	metrics  *observability.Metrics
	maxGo    string
	tracer   trace.Tracer

	state         passState
	compileErr    string
	mod           *loader.Module
	resolver      *mirror.Resolver
	handles       []handle
	infraReported bool
}

// New creates a pipeline for one pass over prog with the given ordered
// extension declarations.
func New(prog *program.Program, decls []program.ExtensionDeclaration, opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	if opts.Reporter == nil {
		opts.Reporter = diagnostics.NewLogReporter(opts.Log)
	}
	if opts.Artifacts == nil {
		opts.Artifacts = artifacts.NewMemory()
	}
	if opts.MaxGoVersion == "" {
		opts.MaxGoVersion = config.DefaultMaxGoVersion
	}

	return &Pipeline{
		passID:   uuid.NewString(),
		prog:     prog,
		decls:    decls,
		reporter: opts.Reporter,
		registry: opts.Artifacts,
		log:      opts.Log,
		metrics:  opts.Metrics,
		maxGo:    opts.MaxGoVersion,
		tracer:   otel.Tracer("spindle/engine"),
		state:    statePending,
	}
}

// PassID returns the pass's unique identity.
func (p *Pipeline) PassID() string {
	return p.passID
}

// Begin runs the compile phase and builds the expander handle set. It
// returns false when the pass is degraded or short-circuited; callers may
// still feed targets afterwards, they just produce no invocations.
func (p *Pipeline) Begin(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.infraFault(fmt.Errorf("%v", r))
			ok = false
		}
	}()

	_, span := p.tracer.Start(ctx, "spindle.compile",
		trace.WithAttributes(attribute.String("pass_id", p.passID)))
	defer span.End()

	if len(p.decls) == 0 {
		p.state = stateIdle
		p.countCompile("skipped")
		return true
	}

	if p.reportDuplicates() {
		p.state = stateShortCircuit
		p.countCompile("skipped")
		return false
	}

	if !p.supportedEnvironment() {
		for _, decl := range p.decls {
			p.report(diagnostics.New(diagnostics.CodeUnsupportedRuntime, diagnostics.SeverityError,
				fmt.Sprintf("host go directive %s is beyond the supported %s", p.prog.GoVersion, p.maxGo),
				decl.Location))
		}
		p.state = stateShortCircuit
		p.countCompile("unsupported")
		return false
	}

	img, err := compiler.Compile(p.prog, p.log)
	if err != nil {
		p.enterDegraded(err.Error())
		return false
	}

	mod, err := loader.Load(img, p.log)
	if err != nil {
		// The interpreter type-checks at load; its diagnostics belong to
		// the compile phase and stick the same way.
		p.enterDegraded(err.Error())
		return false
	}
	p.mod = mod
	p.resolver = mirror.NewResolver(mod)

	for _, decl := range p.decls {
		entry, err := p.resolver.ResolveEntry(decl.Type)
		if err != nil {
			code := diagnostics.CodeResolutionFailure
			if errors.Is(err, mirror.ErrEntryMissing) {
				code = diagnostics.CodeMissingEntryMethod
			}
			p.report(diagnostics.New(code, diagnostics.SeverityError, err.Error(), decl.Location))
			continue
		}
		p.handles = append(p.handles, handle{decl: decl, entry: entry})
	}

	p.state = stateReady
	p.countCompile("ok")
	p.log.WithFields(logrus.Fields{
		"pass_id":   p.passID,
		"expanders": len(p.handles),
	}).Debug("expansion pass ready")
	return true
}

// Process runs every resolved expander against one target declaration.
// Cancellation is honored here, between declarations, never mid-call.
func (p *Pipeline) Process(ctx context.Context, target program.TargetDeclaration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.infraFault(fmt.Errorf("%v", r))
		}
	}()

	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if p.state != stateReady || len(p.handles) == 0 {
		return nil
	}

	_, span := p.tracer.Start(ctx, "spindle.target",
		trace.WithAttributes(attribute.String("target", target.Type.MetadataName())))
	defer span.End()

	desc, resolved := p.targetDescriptor(target)
	if !resolved {
		for _, h := range p.handles {
			p.report(diagnostics.New(diagnostics.CodeResolutionFailure, diagnostics.SeverityError,
				fmt.Sprintf("no mirror for target %s; expander %s cannot run",
					target.Type.MetadataName(), h.decl.Type.FullName()),
				target.Location))
			p.countInvocation("resolution_failed")
		}
		return nil
	}

	for _, h := range p.handles {
		p.invoke(h, target, desc)
	}
	return nil
}

// Close releases the compiled module. Unload failures are swallowed; this
// is the only fault the pipeline is allowed to ignore.
func (p *Pipeline) Close() {
	if p.mod != nil {
		p.mod.Close()
		p.mod = nil
	}
}

// invoke runs one (expander, target) pair and classifies the outcome.
func (p *Pipeline) invoke(h handle, target program.TargetDeclaration, desc reflect.Value) {
	res, err := h.entry.Invoke(desc, target.Exported, target.Struct)
	if err != nil {
		text := fmt.Sprintf("expander %s failed expanding %s: %v",
			h.decl.Type.FullName(), target.Type.MetadataName(), err)
		p.report(diagnostics.New(diagnostics.CodeExecutionFault, diagnostics.SeverityError, text, target.Location))
		p.registerArtifact(
			identity.ArtifactKey(target.Type, h.decl.Type),
			provenanceHeader(h.decl.Type.FullName(), target.Type.MetadataName())+commented(text),
		)
		p.countInvocation("faulted")
		return
	}

	if res.Info != "" {
		p.report(diagnostics.New(diagnostics.CodeExpanderInfo, diagnostics.SeverityInfo, res.Info, target.Location))
	}
	if res.Warning != "" {
		p.report(diagnostics.New(diagnostics.CodeExpanderWarning, diagnostics.SeverityWarning, res.Warning, target.Location))
	}
	if res.Fault != "" {
		p.report(diagnostics.New(diagnostics.CodeExpanderError, diagnostics.SeverityError, res.Fault, target.Location))
	}

	if res.Requested {
		body := res.Source
		if body == "" {
			body = fmt.Sprintf("// expander %s requested generation for %s but returned no source.\n",
				h.decl.Type.FullName(), target.Type.MetadataName())
		}
		p.registerArtifact(
			identity.ArtifactKey(target.Type, h.decl.Type),
			provenanceHeader(h.decl.Type.FullName(), target.Type.MetadataName())+body,
		)
	}
	p.countInvocation("completed")
}

// targetDescriptor resolves the target's mirror type and builds the
// descriptor passed to every expander. Type resolution is memoized inside
// the resolver, so a registration that is also a target resolves once.
func (p *Pipeline) targetDescriptor(target program.TargetDeclaration) (reflect.Value, bool) {
	if _, err := p.resolver.ResolveType(target.Type); err != nil {
		return reflect.Value{}, false
	}
	desc, err := p.mod.NewDescriptor(
		target.Type.Name(), target.Type.MetadataName(), target.Type.PackagePath(),
		target.Exported, target.Struct)
	if err != nil {
		return reflect.Value{}, false
	}
	return desc, true
}

// reportDuplicates flags every registration sharing a type identity with
// another and reports whether any were found.
func (p *Pipeline) reportDuplicates() bool {
	counts := make(map[string]int, len(p.decls))
	for _, decl := range p.decls {
		counts[decl.Type.MetadataName()]++
	}
	found := false
	for _, decl := range p.decls {
		if counts[decl.Type.MetadataName()] > 1 {
			found = true
			p.report(diagnostics.New(diagnostics.CodeDuplicateRegistration, diagnostics.SeverityError,
				fmt.Sprintf("duplicate expander registration: %s", decl.Type.FullName()),
				decl.Location))
		}
	}
	return found
}

// supportedEnvironment checks the host go directive against the
// configured upper bound.
func (p *Pipeline) supportedEnvironment() bool {
	if p.prog.GoVersion == "" {
		return true
	}
	return version.Compare("go"+p.prog.GoVersion, "go"+p.maxGo) <= 0
}

// enterDegraded puts the pass in the sticky compile-failure state: one
// diagnostic and one synthesized failure artifact per expander, no
// invocations for the rest of the pass.
func (p *Pipeline) enterDegraded(compileErr string) {
	p.state = stateDegraded
	p.compileErr = compileErr
	p.countCompile("failed")

	for _, decl := range p.decls {
		p.report(diagnostics.New(diagnostics.CodeCompileFailure, diagnostics.SeverityError,
			fmt.Sprintf("expander module compilation failed: %s", compileErr),
			decl.Location))
		p.registerArtifact(
			identity.CompileFailureKey(decl.Type),
			provenanceHeader(decl.Type.FullName(), "(none)")+commented("compilation failed:\n"+compileErr),
		)
		p.countInvocation("compile_degraded")
	}
}

// infraFault handles a fault escaping the orchestration itself: reported
// once per known expander and recorded under the single pass-wide key.
func (p *Pipeline) infraFault(err error) {
	p.log.WithField("pass_id", p.passID).Errorf("infrastructure fault: %v", err)
	if p.infraReported {
		return
	}
	p.infraReported = true

	for _, decl := range p.decls {
		p.report(diagnostics.New(diagnostics.CodeInfrastructureFault, diagnostics.SeverityError,
			fmt.Sprintf("unhandled infrastructure fault: %v", err),
			decl.Location))
	}
	content := provenanceHeader("spindle", "pass "+p.passID) +
		commented(fmt.Sprintf("infrastructure fault in pass %s:\n%v", p.passID, err))
	if rerr := p.registry.Register(infraFaultKey, content); rerr != nil {
		p.log.Warnf("failed to record infrastructure fault artifact: %v", rerr)
	}
}

// report forwards one diagnostic and counts it.
func (p *Pipeline) report(d diagnostics.Diagnostic) {
	p.reporter.Report(d)
	if p.metrics != nil {
		p.metrics.DiagnosticsTotal.WithLabelValues(string(d.Severity)).Inc()
	}
}

// registerArtifact registers one artifact; a duplicate key within a pass
// is an orchestration bug and escalates as an infrastructure fault.
func (p *Pipeline) registerArtifact(key, content string) {
	if err := p.registry.Register(key, content); err != nil {
		p.infraFault(err)
		return
	}
	if p.metrics != nil {
		p.metrics.ArtifactsTotal.Inc()
	}
}

func (p *Pipeline) countCompile(result string) {
	if p.metrics != nil {
		p.metrics.CompilationsTotal.WithLabelValues(result).Inc()
	}
}

func (p *Pipeline) countInvocation(outcome string) {
	if p.metrics != nil {
		p.metrics.InvocationsTotal.WithLabelValues(outcome).Inc()
	}
}
