package worker

import (
	"errors"
	"os"
	"strings"
	"time"

	"taskhooks/pkg/gitlabhook"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Watermill SubscriberConfig `yaml:"watermill"`
}

type RulesConfig struct {
	Rules []struct {
		Emit topicList `yaml:"emit"`
	} `yaml:"rules"`
}

// topicList mirrors the service's emit field, a single topic or a list.
type topicList []string

func (t *topicList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = topicList{node.Value}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := node.Decode(&topics); err != nil {
			return err
		}
		*t = topics
		return nil
	default:
		return errors.New("emit must be a string or a list of strings")
	}
}

func LoadSubscriberConfig(path string) (SubscriberConfig, error) {
	var cfg AppConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg.Watermill, err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg.Watermill, err
	}
	applySubscriberDefaults(&cfg.Watermill)
	return cfg.Watermill, nil
}

// LoadTopicsFromConfig returns every topic the service's rules can emit.
// Without rules the service publishes on one topic per event kind, so those
// are returned instead.
func LoadTopicsFromConfig(path string) ([]string, error) {
	var cfg RulesConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Rules) == 0 {
		return KindTopics(), nil
	}
	topics := make([]string, 0, len(cfg.Rules))
	seen := make(map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		for _, topic := range rule.Emit {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics, nil
}

// KindTopics lists the default topic of every event kind.
func KindTopics() []string {
	kinds := gitlabhook.Kinds()
	topics := make([]string, 0, len(kinds))
	for _, info := range kinds {
		topics = append(topics, string(info.Kind))
	}
	return topics
}

func applySubscriberDefaults(cfg *SubscriberConfig) {
	if cfg.Driver == "" && len(cfg.Drivers) == 0 {
		cfg.Driver = "gochannel"
	}
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.NATS.ClientIDSuffix == "" {
		cfg.NATS.ClientIDSuffix = "-worker"
	}
	if cfg.BuildRetry.Attempts == 0 {
		cfg.BuildRetry.Attempts = 10
	}
	if cfg.BuildRetry.DelayMS == 0 {
		cfg.BuildRetry.DelayMS = 2000
	}
	if cfg.Dedupe.Size == 0 {
		cfg.Dedupe.Size = defaultDedupeSize
	}
	if cfg.Dedupe.TTLSeconds == 0 {
		cfg.Dedupe.TTLSeconds = int(defaultDedupeTTL / time.Second)
	}
}
