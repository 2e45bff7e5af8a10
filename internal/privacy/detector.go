package privacy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Detector runs the enabled redaction rules and logs what it found
type Detector struct {
	rules   []DetectionRule
	enabled map[Category]bool
	active  bool
	logger  *logger.Logger
	mu      sync.RWMutex
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	detector := &Detector{
		rules:   GetDefaultRules(),
		enabled: make(map[Category]bool),
		logger:  log,
	}

	if err := detector.Reconfigure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	log.Info("Privacy detector initialized",
		zap.Int("total_rules", len(detector.rules)),
		zap.Int("enabled_rules", len(detector.EnabledCategories())),
	)

	return detector, nil
}

// Reconfigure replaces the enabled set. Used on config reload.
func (d *Detector) Reconfigure(cfg config.PrivacyConfig) error {
	enabled, err := d.resolve(cfg.Detectors)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.enabled = enabled
	d.active = cfg.Enabled
	d.mu.Unlock()
	return nil
}

// resolve turns configured detector names into an enabled set
func (d *Detector) resolve(detectors []string) (map[Category]bool, error) {
	enabled := make(map[Category]bool, len(d.rules))
	for _, rule := range d.rules {
		enabled[rule.Category] = false
	}

	for _, name := range detectors {
		if strings.EqualFold(name, "all") {
			for _, rule := range d.rules {
				enabled[rule.Category] = true
			}
			continue
		}

		category := Category(strings.ToUpper(name))
		if _, known := enabled[category]; !known {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		enabled[category] = true
	}

	return enabled, nil
}

// ProcessText sanitizes text with the enabled rules, extending mappings.
// Rules always run in EMAIL, PHONE, NAME order.
func (d *Detector) ProcessText(text string, mappings []Mapping) Result {
	d.mu.RLock()
	active := d.active
	rules := lo.Filter(d.rules, func(rule DetectionRule, _ int) bool {
		return d.enabled[rule.Category]
	})
	d.mu.RUnlock()

	if !active {
		out := make([]Mapping, len(mappings))
		copy(out, mappings)
		return Result{
			SanitizedText: text,
			Mappings:      out,
			Findings:      []Finding{},
		}
	}

	result := sanitize(rules, text, mappings)

	for _, finding := range result.Findings {
		d.logger.Debug("PII detected and masked",
			zap.String("category", string(finding.Category)),
			zap.Int("count", finding.Count),
			zap.String("replacement", finding.Masked),
		)
	}

	return result
}

// EnabledCategories returns the enabled categories in pass order
func (d *Detector) EnabledCategories() []Category {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var enabled []Category
	for _, rule := range d.rules {
		if d.enabled[rule.Category] {
			enabled = append(enabled, rule.Category)
		}
	}
	return enabled
}

// Complete reports whether the detector is active with every rule enabled
func (d *Detector) Complete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.active {
		return false
	}
	for _, rule := range d.rules {
		if !d.enabled[rule.Category] {
			return false
		}
	}
	return true
}

// Enable enables a specific detection rule
func (d *Detector) Enable(category Category) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.enabled[category]; !exists {
		return fmt.Errorf("unknown rule: %s", category)
	}
	d.enabled[category] = true
	d.logger.Info("Detection rule enabled", zap.String("rule", string(category)))
	return nil
}

// Disable disables a specific detection rule
func (d *Detector) Disable(category Category) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.enabled[category]; !exists {
		return fmt.Errorf("unknown rule: %s", category)
	}
	d.enabled[category] = false
	d.logger.Info("Detection rule disabled", zap.String("rule", string(category)))
	return nil
}
