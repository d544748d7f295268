package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var (
	nameRe    = regexp.MustCompile(`^[-a-z_0-9]+$`)
	dailyRe   = regexp.MustCompile(`^(\d{8})(\d{2})$`)
	twoDigits = regexp.MustCompile(`^(.*?)(\d{2})$`)
)

// ValidateName checks a dataset name against the allowed alphabet.
func ValidateName(name string) apperrors.Error {
	if !nameRe.MatchString(name) {
		return ErrName.Msg("dataset names may only contain lowercase letters, digits, dashes and underscores")
	}
	return nil
}

// ValidateVersion checks a caller-supplied version string.
func ValidateVersion(version string) apperrors.Error {
	if version == "latest" || version == "_ALL_" {
		return ErrVersion.Msg(version + " is a reserved token and cannot be used as a version")
	}
	if len(version) > 40 {
		return ErrVersion.Msg("versions are limited to 40 characters")
	}
	return nil
}

// AssignVersion derives the next version when the caller did not pass one.
// Fresh datasets get a date-stamped YYYYMMDDnn; otherwise the prior
// version's trailing counter is incremented, falling back to appending a 1.
func AssignVersion(prior string, now time.Time) string {
	today := now.UTC().Format("20060102")
	if prior == "" {
		return today + "01"
	}
	if m := dailyRe.FindStringSubmatch(prior); m != nil && m[1] == today {
		n, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s%02d", today, n+1)
	}
	if m := twoDigits.FindStringSubmatch(prior); m != nil {
		n, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%s%02d", m[1], n+1)
	}
	return prior + "1"
}
