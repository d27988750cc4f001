package inference

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"visionedge/internal/logging"
)

// Settings returns the current filtering settings.
func (c *Coordinator) Settings() Settings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

// ApplySetting changes one runtime setting. Unknown names and invalid values
// produce an error result rather than a Go error.
func (c *Coordinator) ApplySetting(name, value string) SettingResult {
	result := SettingResult{Name: name, Value: value}
	trimmed := strings.TrimSpace(value)

	switch name {
	case SettingConfidenceThreshold:
		threshold, err := parseThreshold(trimmed)
		if err != nil {
			return c.rejectSetting(result, err.Error())
		}
		c.settingsMu.Lock()
		c.settings.ConfidenceThreshold = threshold
		c.settingsMu.Unlock()
		result.Value = strconv.Itoa(threshold)
	case SettingDetectClass:
		if trimmed == "" {
			return c.rejectSetting(result, "detect class must not be empty")
		}
		c.settingsMu.Lock()
		c.settings.DetectClass = trimmed
		c.settingsMu.Unlock()
		result.Value = trimmed
	default:
		return c.rejectSetting(result, fmt.Sprintf("unknown setting %q", name))
	}

	result.Status = SettingCompleted
	c.logger.Info("setting applied", logging.String("setting", name), logging.String("value", result.Value))
	return result
}

func (c *Coordinator) rejectSetting(result SettingResult, msg string) SettingResult {
	result.Status = SettingError
	result.Message = msg
	logging.WarnWithContext(c.logger, "setting rejected", "setting_rejected",
		logging.String("setting", result.Name),
		logging.String("value", result.Value),
		logging.String("reason", msg),
		logging.String(logging.FieldImpact, "previous value kept"),
	)
	return result
}

func parseThreshold(value string) (int, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) {
		return 0, fmt.Errorf("confidence threshold %q is not a number", value)
	}
	if f < 0 || f > 100 {
		return 0, fmt.Errorf("confidence threshold %v outside 0-100", f)
	}
	return int(math.Round(f)), nil
}

// ApplySettings pushes every changed field of s through ApplySetting, as the
// config watcher does after a reload.
func (c *Coordinator) ApplySettings(s Settings) []SettingResult {
	current := c.Settings()
	var results []SettingResult
	if s.ConfidenceThreshold != current.ConfidenceThreshold {
		results = append(results, c.ApplySetting(SettingConfidenceThreshold, strconv.Itoa(s.ConfidenceThreshold)))
	}
	if s.DetectClass != current.DetectClass {
		results = append(results, c.ApplySetting(SettingDetectClass, s.DetectClass))
	}
	return results
}
