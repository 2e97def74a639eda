package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var errUnknownKey = errors.New("unknown key")

// Duration is a time.Duration that decodes from "300ms"-style strings or from
// a number of seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(x * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

// UnmarshalYAML accepts "1.5s" or 1.5.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// targets maps every recognised top-level key to the field it decodes into.
func targets(cfg *Config) map[string]any {
	return map[string]any{
		"hotkey":              &cfg.Hotkey,
		"language":            &cfg.Language,
		"use_itn":             &cfg.UseITN,
		"auto_punctuation":    &cfg.AutoPunctuation,
		"hotwords":            &cfg.Hotwords,
		"punctuation_map":     &cfg.PunctuationMap,
		"text_rules":          &cfg.TextRules,
		"engine":              &cfg.Engine,
		"model_dir":           &cfg.ModelDir,
		"num_threads":         &cfg.NumThreads,
		"sample_rate":         &cfg.SampleRate,
		"recognition_timeout": &cfg.RecognitionTimeout,
		"min_duration":        &cfg.MinDuration,
		"max_duration":        &cfg.MaxDuration,
		"silence_threshold":   &cfg.SilenceThreshold,
		"queue_depth":         &cfg.QueueDepth,
		"notification":        &cfg.Notification,
		"log_level":           &cfg.LogLevel,
		"history":             &cfg.History,
		"metrics_file":        &cfg.MetricsFile,
		"dump_dir":            &cfg.DumpDir,
	}
}

// decodeJSON decodes key by key so that errors name the offending key.
func decodeJSON(data []byte, cfg *Config) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &KeyError{Err: fmt.Errorf("malformed JSON%s: %w", jsonLocation(data, err), err)}
	}

	fields := targets(cfg)
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		target, ok := fields[key]
		if !ok {
			return &KeyError{Key: key, Err: errUnknownKey}
		}
		dec := json.NewDecoder(bytes.NewReader(raw[key]))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return &KeyError{Key: key, Err: err}
		}
	}
	return nil
}

// jsonLocation returns " at line L, column C" for errors carrying a byte
// offset, or "" when the position is unknown.
func jsonLocation(data []byte, err error) string {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return ""
	}
	if offset <= 0 || offset > int64(len(data)) {
		return ""
	}

	before := data[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n') - 1
	return fmt.Sprintf(" at line %d, column %d", line, col)
}

func decodeYAML(data []byte, cfg *Config) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &KeyError{Err: fmt.Errorf("malformed YAML: %w", err)}
	}

	fields := targets(cfg)
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		target, ok := fields[key]
		if !ok {
			return &KeyError{Key: key, Err: errUnknownKey}
		}
		node := raw[key]
		if err := node.Decode(target); err != nil {
			return &KeyError{Key: key, Err: err}
		}
	}
	return nil
}
