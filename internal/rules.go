package internal

import (
	"errors"
	"log"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"
)

// Rule routes events whose attributes satisfy When to the Emit topics.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// EmitList accepts either a single topic or a list of topics in YAML.
type EmitList []string

func (e *EmitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = EmitList{node.Value}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := node.Decode(&topics); err != nil {
			return err
		}
		*e = topics
		return nil
	default:
		return errors.New("emit must be a string or a list of strings")
	}
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule
	Strict bool
	Logger *log.Logger
}

// RuleMatch is a topic selected for an event, optionally pinned to drivers.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	emit    []string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

// RuleEngine evaluates routing rules against event attributes.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledRule{emit: rule.Emit, drivers: rule.Drivers, expr: expr})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Empty reports whether no rules are configured.
func (r *RuleEngine) Empty() bool {
	return r == nil || len(r.rules) == 0
}

// Evaluate returns the topics selected for event.
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if r == nil {
		return nil
	}
	return r.EvaluateWithLogger(event, r.logger)
}

// EvaluateWithLogger is Evaluate with evaluation failures reported to logger.
// Rules see the event data plus "kind" and "project_id". In strict mode any
// evaluation failure drops every match for the event.
func (r *RuleEngine) EvaluateWithLogger(event Event, logger *log.Logger) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	params := make(map[string]interface{}, len(event.Data)+2)
	for key, value := range event.Data {
		params[key] = value
	}
	params["kind"] = event.Name
	params["project_id"] = event.ProjectID

	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			logger.Printf("rule eval failed: %v", err)
			if r.strict {
				return nil
			}
			continue
		}
		if ok, _ := result.(bool); ok {
			for _, topic := range rule.emit {
				matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
			}
		}
	}
	return matches
}
