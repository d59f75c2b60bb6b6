package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/auditchain/internal/ir"
	"github.com/roach88/auditchain/internal/verify"
)

// Scenario defines a ledger scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the first time the step clock returns.
	Start time.Time `yaml:"start"`

	// Step is how far the clock advances per event. Zero freezes it.
	Step time.Duration `yaml:"step,omitempty"`

	// MaxMetadataBytes overrides the stored metadata bound.
	MaxMetadataBytes int `yaml:"max_metadata_bytes,omitempty"`

	// Events are appended in order.
	Events []EventStep `yaml:"events"`

	// Tamper holds SQL statements run after the events are appended.
	Tamper []string `yaml:"tamper,omitempty"`

	// Assertions validate the chains after tampering.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one domain event handed to the recorder.
type EventStep struct {
	Chain          string         `yaml:"chain"`
	Type           string         `yaml:"type"`
	ResourceType   string         `yaml:"resource_type,omitempty"`
	ResourceID     string         `yaml:"resource_id,omitempty"`
	Actor          string         `yaml:"actor"`
	Metadata       map[string]any `yaml:"metadata,omitempty"`
	Criticality    string         `yaml:"criticality,omitempty"`
	IdempotencyKey string         `yaml:"idempotency_key,omitempty"`
	SourceEventID  string         `yaml:"source_event_id,omitempty"`
	OccurredAt     *time.Time     `yaml:"occurred_at,omitempty"`

	// Corrects is the index of an earlier step whose entry this event corrects.
	Corrects *int `yaml:"corrects,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks the outcome of one event.
type Expect struct {
	// Sequence is the sequence the entry must be committed at.
	Sequence *int64 `yaml:"sequence,omitempty"`

	// Error is the error code the append must fail with.
	Error string `yaml:"error,omitempty"`

	// DuplicateOf is the index of an earlier step this one must resolve to.
	DuplicateOf *int `yaml:"duplicate_of,omitempty"`

	// Truncated requires the stored metadata to be a truncated subset.
	Truncated bool `yaml:"truncated,omitempty"`
}

// Assertion validates a chain after the events and tampering.
type Assertion struct {
	Type     string `yaml:"type"`
	Chain    string `yaml:"chain"`
	Length   int64  `yaml:"length,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Sequence int64  `yaml:"sequence,omitempty"`
	Count    int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertChainValid       = "chain_valid"
	AssertChainLength      = "chain_length"
	AssertDefect           = "defect"
	AssertDefectCount      = "defect_count"
	AssertBundleReverifies = "bundle_reverifies"
	AssertExportRefused    = "export_refused"
)

var defectKinds = map[string]bool{
	string(verify.HashMismatch): true,
	string(verify.LinkMismatch): true,
	string(verify.SequenceGap):  true,
	string(verify.TipMismatch):  true,
}

var errorCodes = map[string]bool{
	string(ir.ErrCodeValidation):         true,
	string(ir.ErrCodeContention):         true,
	string(ir.ErrCodeStorageUnavailable): true,
	string(ir.ErrCodeIntegrityViolation): true,
	string(ir.ErrCodeSequenceGap):        true,
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if s.Description == "" {
		errs = append(errs, fmt.Errorf("description is required"))
	}
	if s.Start.IsZero() {
		errs = append(errs, fmt.Errorf("start is required"))
	}
	if s.Step < 0 {
		errs = append(errs, fmt.Errorf("step must not be negative"))
	}
	if len(s.Events) == 0 {
		errs = append(errs, fmt.Errorf("events list is required and must be non-empty"))
	}
	if len(s.Assertions) == 0 {
		errs = append(errs, fmt.Errorf("assertions list is required and must be non-empty"))
	}

	for i, ev := range s.Events {
		if ev.Chain == "" {
			errs = append(errs, fmt.Errorf("events[%d]: chain is required", i))
		}
		if ev.Corrects != nil && (*ev.Corrects < 0 || *ev.Corrects >= i) {
			errs = append(errs, fmt.Errorf("events[%d]: corrects must name an earlier step", i))
		}
		if ev.Expect == nil {
			continue
		}
		if ev.Expect.Error != "" && !errorCodes[ev.Expect.Error] {
			errs = append(errs, fmt.Errorf("events[%d].expect: unknown error code %q", i, ev.Expect.Error))
		}
		if d := ev.Expect.DuplicateOf; d != nil && (*d < 0 || *d >= i) {
			errs = append(errs, fmt.Errorf("events[%d].expect: duplicate_of must name an earlier step", i))
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateAssertion(index int, a Assertion) error {
	if a.Chain == "" {
		return fmt.Errorf("assertions[%d]: chain is required", index)
	}

	switch a.Type {
	case AssertChainValid, AssertBundleReverifies, AssertExportRefused:
	case AssertChainLength:
		if a.Length < 0 {
			return fmt.Errorf("assertions[%d]: length must be non-negative", index)
		}
	case AssertDefect:
		if !defectKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown defect kind %q", index, a.Kind)
		}
	case AssertDefectCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
