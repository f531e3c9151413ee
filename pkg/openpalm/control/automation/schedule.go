package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var fieldCharset = regexp.MustCompile(`^[0-9*,/-]+$`)

type fieldRange struct {
	name     string
	min, max int
}

var cronFields = []fieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"dom", 1, 31},
	{"month", 1, 12},
	{"dow", 0, 7},
}

// ValidateSchedule checks a 5-field cron expression field by field,
// used when accepting new automations via the admin API. Preset shorthand
// (e.g. @daily) is resolved to canonical cron first.
func ValidateSchedule(schedule string) error {
	canonical, err := canonicalizeSchedule(schedule)
	if err != nil {
		return err
	}

	fields := strings.Fields(canonical)
	if len(fields) != 5 {
		return fmt.Errorf("schedule %q must have 5 fields, got %d", schedule, len(fields))
	}

	for i, f := range fields {
		spec := cronFields[i]
		if !fieldCharset.MatchString(f) {
			return fmt.Errorf("%s field %q contains invalid characters", spec.name, f)
		}
		if err := validateField(f, spec); err != nil {
			return fmt.Errorf("%s field: %w", spec.name, err)
		}
	}
	return nil
}

func validateField(field string, fr fieldRange) error {
	for _, part := range strings.Split(field, ",") {
		if err := validatePart(part, fr); err != nil {
			return err
		}
	}
	return nil
}

func validatePart(part string, fr fieldRange) error {
	base := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		stepStr := part[idx+1:]
		step, err := strconv.Atoi(stepStr)
		if err != nil || step < 1 {
			return fmt.Errorf("step %q must be a positive integer", stepStr)
		}
	}

	if base == "*" {
		return nil
	}
	if strings.Contains(base, "-") {
		bounds := strings.SplitN(base, "-", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("malformed range %q", base)
		}
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("malformed range %q", base)
		}
		if a < fr.min || a > fr.max || b < fr.min || b > fr.max {
			return fmt.Errorf("range %q out of bounds [%d,%d]", base, fr.min, fr.max)
		}
		if a > b {
			return fmt.Errorf("range %q has start greater than end", base)
		}
		return nil
	}

	n, err := strconv.Atoi(base)
	if err != nil {
		return fmt.Errorf("malformed value %q", base)
	}
	if n < fr.min || n > fr.max {
		return fmt.Errorf("value %d out of bounds [%d,%d]", n, fr.min, fr.max)
	}
	return nil
}
