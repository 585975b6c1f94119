// Package diagnostics defines the closed set of coded, severity-tagged
// build diagnostics and the Reporter port every pipeline component emits
// through. The reporting sink is always passed explicitly; nothing in the
// pipeline reports through ambient global state.
package diagnostics

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Code identifies one diagnostic in the closed set. Codes are stable and
// are never renumbered.
type Code string

const (
	// CodeCompileFailure is reported when the expander module fails to compile.
	CodeCompileFailure Code = "SPN0001"
	// CodeMissingEntryMethod is reported when a resolved expander type has no
	// entry method of the exact required shape.
	CodeMissingEntryMethod Code = "SPN0002"
	// CodeResolutionFailure is reported when a type identity has no mirror in
	// the loaded module.
	CodeResolutionFailure Code = "SPN0003"
	// CodeUnsupportedRuntime is reported when the host module's go directive
	// is beyond the supported range.
	CodeUnsupportedRuntime Code = "SPN0004"
	// CodeDuplicateRegistration is reported once per registration sharing a
	// type identity with another registration.
	CodeDuplicateRegistration Code = "SPN0005"
	// CodeExecutionFault is reported when an expander's entry method panics.
	CodeExecutionFault Code = "SPN0006"
	// CodeInfrastructureFault is reported when the pipeline's own
	// orchestration fails in a way not attributable to a single call.
	CodeInfrastructureFault Code = "SPN0007"
	// CodeExpanderInfo passes through an expander's info output.
	CodeExpanderInfo Code = "SPN0008"
	// CodeExpanderWarning passes through an expander's warning output.
	CodeExpanderWarning Code = "SPN0009"
	// CodeExpanderError passes through an expander's error output.
	CodeExpanderError Code = "SPN0010"
)

// Severity indicates how serious a diagnostic is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Location is a position in host source.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Diagnostic is one coded message bound to a source location.
type Diagnostic struct {
	Code     Code
	Severity Severity
	Message  string
	Location Location
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s [%s] %s", d.Location, d.Severity, d.Code, d.Message)
}

// New builds a diagnostic.
func New(code Code, severity Severity, message string, loc Location) Diagnostic {
	return Diagnostic{Code: code, Severity: severity, Message: message, Location: loc}
}

// Reporter receives diagnostics as the pipeline produces them. Order of
// delivery matches the deterministic declaration order of the pass.
type Reporter interface {
	Report(d Diagnostic)
}

// Collector is a Reporter that records everything it receives, in order.
type Collector struct {
	diags []Diagnostic
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Report implements Reporter.
func (c *Collector) Report(d Diagnostic) {
	c.diags = append(c.diags, d)
}

// Diagnostics returns everything reported so far, in report order.
func (c *Collector) Diagnostics() []Diagnostic {
	return c.diags
}

// ByCode returns the reported diagnostics carrying the given code.
func (c *Collector) ByCode(code Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range c.diags {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (c *Collector) HasErrors() bool {
	for _, d := range c.diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// LogReporter forwards diagnostics to a logrus logger at the matching level.
type LogReporter struct {
	log *logrus.Logger
}

// NewLogReporter creates a reporter backed by the given logger.
func NewLogReporter(log *logrus.Logger) *LogReporter {
	if log == nil {
		log = logrus.New()
	}
	return &LogReporter{log: log}
}

// Report implements Reporter.
func (r *LogReporter) Report(d Diagnostic) {
	entry := r.log.WithFields(logrus.Fields{
		"code":     string(d.Code),
		"location": d.Location.String(),
	})
	switch d.Severity {
	case SeverityError:
		entry.Error(d.Message)
	case SeverityWarning:
		entry.Warn(d.Message)
	default:
		entry.Info(d.Message)
	}
}

// Multi fans one diagnostic out to several reporters.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(d Diagnostic) {
	for _, r := range m {
		r.Report(d)
	}
}
