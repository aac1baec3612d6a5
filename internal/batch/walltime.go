package batch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatWalltime renders a duration in the scheduler's D-HH:MM:SS form.
// Durations under a day render as HH:MM:SS.
func FormatWalltime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int(d / time.Minute)
	secs := int((d - time.Duration(mins)*time.Minute) / time.Second)

	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, mins, secs)
}

// ParseWalltime parses the walltime forms sbatch accepts: "MM", "MM:SS",
// "HH:MM:SS", "D-HH", "D-HH:MM" and "D-HH:MM:SS".
func ParseWalltime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty walltime")
	}

	var days int
	hasDays := false
	rest := s
	if idx := strings.Index(s, "-"); idx >= 0 {
		d, err := strconv.Atoi(s[:idx])
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		days = d
		hasDays = true
		rest = s[idx+1:]
	}

	parts := strings.Split(rest, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		nums[i] = n
	}

	var hours, mins, secs int
	if hasDays {
		// With a day field the leading component is hours.
		switch len(nums) {
		case 1:
			hours = nums[0]
		case 2:
			hours, mins = nums[0], nums[1]
		case 3:
			hours, mins, secs = nums[0], nums[1], nums[2]
		default:
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
	} else {
		// Without a day field sbatch reads "MM" and "MM:SS" as minutes.
		switch len(nums) {
		case 1:
			mins = nums[0]
		case 2:
			mins, secs = nums[0], nums[1]
		case 3:
			hours, mins, secs = nums[0], nums[1], nums[2]
		default:
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second
	return total, nil
}
