package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultPriority is used for rules that do not set one
const DefaultPriority = 100

// Logic combines the conditions of a rule
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ActionType is what a triggered rule does to the evaluation
type ActionType string

const (
	ActionEnableFeature  ActionType = "enable_feature"
	ActionDisableFeature ActionType = "disable_feature"
	ActionSetValue       ActionType = "set_value"
	ActionAddTag         ActionType = "add_tag"
	ActionRemoveTag      ActionType = "remove_tag"
)

// Rule is one business rule
type Rule struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled" json:"enabled,omitempty"`

	// Priority orders evaluation, lower runs first
	Priority *int `yaml:"priority" json:"priority,omitempty"`

	// Conditions may be omitted, a rule without conditions always triggers
	Conditions *ConditionGroup `yaml:"conditions" json:"conditions,omitempty"`

	Actions []Action `yaml:"actions" json:"actions"`

	// Tags let callers evaluate a subset of rules
	Tags []string `yaml:"tags" json:"tags,omitempty"`
}

// IsEnabled reports whether the rule takes part in evaluation
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Order returns the effective priority
func (r Rule) Order() int {
	if r.Priority == nil {
		return DefaultPriority
	}
	return *r.Priority
}

func (r Rule) hasTag(tags []string) bool {
	for _, want := range tags {
		for _, t := range r.Tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// ConditionGroup is a list of conditions joined by one logic operator
type ConditionGroup struct {
	Logic Logic       `yaml:"logic" json:"logic,omitempty"`
	Rules []Condition `yaml:"rules" json:"rules"`
}

// Condition compares the context value at Field with Value
type Condition struct {
	// Field is a dot path into the evaluation context
	Field    string      `yaml:"field" json:"field"`
	Operator Operator    `yaml:"operator" json:"operator"`
	Value    interface{} `yaml:"value" json:"value,omitempty"`
}

// Action is applied when a rule triggers
type Action struct {
	Type    ActionType  `yaml:"type" json:"type"`
	Feature string      `yaml:"feature" json:"feature,omitempty"`
	Key     string      `yaml:"key" json:"key,omitempty"`
	Value   interface{} `yaml:"value" json:"value,omitempty"`
	Tag     string      `yaml:"tag" json:"tag,omitempty"`
}

// Evaluation is the outcome of evaluating every applicable rule against one context
type Evaluation struct {
	Features       map[string]bool        `json:"features"`
	Metadata       map[string]interface{} `json:"metadata"`
	TriggeredRules []string               `json:"triggered_rules"`
	EvaluatedRules []string               `json:"evaluated_rules"`
	Tags           []string               `json:"tags"`
}

// Feature returns a feature flag and whether any rule set it
func (ev Evaluation) Feature(name string) (enabled, set bool) {
	enabled, set = ev.Features[name]
	return enabled, set
}

// File is the on-disk rules document
type File struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Issue is a problem found by Validate
type Issue struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"error"`
	// Warning issues do not prevent loading
	Warning bool `json:"warning,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("rule %q: %s", i.RuleID, i.Message)
}

// ErrInvalidRules is returned when a rule set has blocking issues
var ErrInvalidRules = errors.New("invalid rules")

// Engine evaluates a fixed, priority-ordered rule set.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules    []Rule
	patterns map[string]*regexp.Regexp
	logger   *zap.Logger
}

// NewEngine validates rules and returns an engine over them
func NewEngine(rules []Rule, logger *zap.Logger) (*Engine, error) {
	var blocking []string
	for _, issue := range Validate(rules) {
		if issue.Warning {
			logger.Warn("Rule validation warning",
				zap.String("rule_id", issue.RuleID),
				zap.String("issue", issue.Message))
			continue
		}
		blocking = append(blocking, issue.String())
	}
	if len(blocking) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRules, strings.Join(blocking, "; "))
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})

	e := &Engine{
		rules:    sorted,
		patterns: make(map[string]*regexp.Regexp),
		logger:   logger,
	}
	for _, r := range sorted {
		if r.Conditions == nil {
			continue
		}
		for _, c := range r.Conditions.Rules {
			if c.Operator == OpRegex {
				// already compiled once by Validate
				e.patterns[fmt.Sprint(c.Value)] = regexp.MustCompile(fmt.Sprint(c.Value))
			}
		}
	}
	return e, nil
}

// Load reads a rules document. JSON documents are accepted as YAML.
func Load(path string, logger *zap.Logger) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	e, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	logger.Info("Rules loaded",
		zap.String("path", path),
		zap.Int("count", len(e.rules)))
	return e, nil
}

// Parse decodes a YAML or JSON rules document
func Parse(data []byte, logger *zap.Logger) (*Engine, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return NewEngine(f.Rules, logger)
}

// Rules returns a copy of the rules in evaluation order
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every enabled rule against ctx. When tags are given only rules
// carrying at least one of them are considered.
func (e *Engine) Evaluate(ctx map[string]interface{}, tags ...string) Evaluation {
	ev := Evaluation{
		Features:       make(map[string]bool),
		Metadata:       make(map[string]interface{}),
		TriggeredRules: []string{},
		EvaluatedRules: []string{},
		Tags:           []string{},
	}

	for _, r := range e.applicable(tags) {
		if e.matches(r, ctx) {
			ev.TriggeredRules = append(ev.TriggeredRules, r.ID)
			for _, a := range r.Actions {
				apply(a, &ev)
			}
		}
		ev.EvaluatedRules = append(ev.EvaluatedRules, r.ID)
	}

	e.logger.Debug("Rules evaluated",
		zap.Int("evaluated", len(ev.EvaluatedRules)),
		zap.Strings("triggered", ev.TriggeredRules))
	return ev
}

// CheckFeature reports whether name ends up enabled for ctx
func (e *Engine) CheckFeature(name string, ctx map[string]interface{}) bool {
	return e.Evaluate(ctx).Features[name]
}

// Applicable returns the rules that would trigger for ctx
func (e *Engine) Applicable(ctx map[string]interface{}, tags ...string) []Rule {
	var out []Rule
	for _, r := range e.applicable(tags) {
		if e.matches(r, ctx) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) applicable(tags []string) []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if !r.IsEnabled() {
			continue
		}
		if len(tags) > 0 && !r.hasTag(tags) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) matches(r Rule, ctx map[string]interface{}) bool {
	if r.Conditions == nil || len(r.Conditions.Rules) == 0 {
		return true
	}
	logic := r.Conditions.logic()
	for _, c := range r.Conditions.Rules {
		ok := e.check(c, ctx)
		if logic == LogicOr && ok {
			return true
		}
		if logic == LogicAnd && !ok {
			return false
		}
	}
	return logic == LogicAnd
}

func (g ConditionGroup) logic() Logic {
	if g.Logic == "" {
		return LogicAnd
	}
	return Logic(strings.ToUpper(string(g.Logic)))
}

func apply(a Action, ev *Evaluation) {
	switch a.Type {
	case ActionEnableFeature, "enable":
		ev.Features[a.Feature] = true
	case ActionDisableFeature, "disable":
		ev.Features[a.Feature] = false
	case ActionSetValue:
		ev.Metadata[a.Key] = a.Value
	case ActionAddTag:
		ev.Tags = append(ev.Tags, a.Tag)
	case ActionRemoveTag:
		kept := ev.Tags[:0]
		for _, t := range ev.Tags {
			if t != a.Tag {
				kept = append(kept, t)
			}
		}
		ev.Tags = kept
	}
}

// Validate reports malformed rules. Issues marked Warning are advisory.
func Validate(rules []Rule) []Issue {
	var issues []Issue
	seen := make(map[string]int)
	for _, r := range rules {
		seen[r.ID]++
	}

	for _, r := range rules {
		if r.ID == "" {
			issues = append(issues, Issue{RuleID: r.ID, Message: "missing rule id"})
		} else if seen[r.ID] > 1 {
			issues = append(issues, Issue{RuleID: r.ID, Message: "duplicate rule id"})
			seen[r.ID] = 0
		}

		if r.Conditions == nil || len(r.Conditions.Rules) == 0 {
			issues = append(issues, Issue{RuleID: r.ID, Message: "no conditions defined", Warning: true})
		} else {
			if l := r.Conditions.logic(); l != LogicAnd && l != LogicOr {
				issues = append(issues, Issue{RuleID: r.ID, Message: fmt.Sprintf("unknown logic %q", r.Conditions.Logic)})
			}
			for _, c := range r.Conditions.Rules {
				if msg := validateCondition(c); msg != "" {
					issues = append(issues, Issue{RuleID: r.ID, Message: msg})
				}
			}
		}

		if len(r.Actions) == 0 {
			issues = append(issues, Issue{RuleID: r.ID, Message: "no actions defined"})
		}
		for _, a := range r.Actions {
			if msg := validateAction(a); msg != "" {
				issues = append(issues, Issue{RuleID: r.ID, Message: msg})
			}
		}
	}
	return issues
}

func validateCondition(c Condition) string {
	if c.Field == "" {
		return "condition has no field"
	}
	if !c.Operator.Known() {
		return fmt.Sprintf("unknown operator %q", c.Operator)
	}
	switch c.Operator {
	case OpRegex:
		if _, err := regexp.Compile(fmt.Sprint(c.Value)); err != nil {
			return fmt.Sprintf("invalid regex for %s: %v", c.Field, err)
		}
	case OpBetween:
		bounds, ok := c.Value.([]interface{})
		if !ok || len(bounds) != 2 {
			return fmt.Sprintf("between on %s needs a two element list", c.Field)
		}
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]interface{}); !ok {
			return fmt.Sprintf("%s on %s needs a list", c.Operator, c.Field)
		}
	}
	return ""
}

func validateAction(a Action) string {
	switch a.Type {
	case ActionEnableFeature, ActionDisableFeature, "enable", "disable":
		if a.Feature == "" {
			return fmt.Sprintf("%s action has no feature", a.Type)
		}
	case ActionSetValue:
		if a.Key == "" {
			return "set_value action has no key"
		}
	case ActionAddTag, ActionRemoveTag:
		if a.Tag == "" {
			return fmt.Sprintf("%s action has no tag", a.Type)
		}
	default:
		return fmt.Sprintf("unknown action %q", a.Type)
	}
	return ""
}
