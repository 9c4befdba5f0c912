// Package meeting detects scheduling intent in email text and ranks the
// meetings it finds.
package meeting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"triage_server/core/domain"
	"triage_server/core/port/in"
)

// Detector reads meeting requests out of email text. Relative phrases such
// as "tomorrow" are resolved against the detector's clock and location.
type Detector struct {
	now func() time.Time
	loc *time.Location
}

// NewDetector creates a detector. nil arguments default to time.Now and UTC.
func NewDetector(now func() time.Time, loc *time.Location) *Detector {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{now: now, loc: loc}
}

// Detect never fails: content without scheduling intent yields an empty
// detection.
func (d *Detector) Detect(c in.MeetingContent) *domain.MeetingDetection {
	original := sourceText(c.Subject, c.BodyText, c.BodyHTML)
	text := strings.ToLower(original)

	if text == "" || !anyMatch(text, intentPatterns) {
		return &domain.MeetingDetection{}
	}

	duration := extractDuration(text)
	return &domain.MeetingDetection{
		HasMeetingRequest: true,
		SuggestedTitle:    suggestTitle(original, c),
		SuggestedDuration: &duration,
		DetectedDates:     extractDates(text, d.now().In(d.loc)),
		DetectedTimes:     extractTimes(text),
		IsFollowUp:        isFollowUp(c.Subject, original, text),
		MeetingType:       classifyType(text),
	}
}

func classifyType(text string) domain.MeetingType {
	for _, f := range typeFamilies {
		if f.pattern.MatchString(text) {
			return f.kind
		}
	}
	return domain.MeetingTypeMeeting
}

func isFollowUp(subject *string, original, text string) bool {
	if subject != nil && replySubjectPattern.MatchString(*subject) {
		return true
	}
	return followUpPattern.MatchString(text) || quotedLinePattern.MatchString(original)
}

// ===== title =====

func suggestTitle(original string, c in.MeetingContent) *string {
	if m := topicPattern.FindStringSubmatch(original); m != nil {
		topic := m[1]
		if loc := topicTailCut.FindStringIndex(topic); loc != nil {
			topic = topic[:loc[0]]
		}
		topic = strings.TrimSpace(topic)
		if len(topic) >= 3 {
			return truncateTitle("Discuss " + topic)
		}
	}

	if c.Subject != nil {
		subject := *c.Subject
		for subjectPrefix.MatchString(subject) {
			subject = subjectPrefix.ReplaceAllString(subject, "")
		}
		if subject = strings.TrimSpace(subject); subject != "" {
			return truncateTitle(subject)
		}
	}

	if name := strings.TrimSpace(c.Sender.Name); name != "" {
		return truncateTitle("Meeting with " + name)
	}

	title := "Meeting"
	return &title
}

func truncateTitle(s string) *string {
	if r := []rune(s); len(r) > maxTitleLength {
		s = strings.TrimSpace(string(r[:maxTitleLength]))
	}
	return &s
}

// ===== dates =====

func extractDates(text string, now time.Time) []time.Time {
	today := midnight(now)
	seen := make(map[string]bool)
	var dates []time.Time
	add := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		if key := t.Format("2006-01-02"); !seen[key] {
			seen[key] = true
			dates = append(dates, t)
		}
	}

	for _, m := range consume(&text, isoDatePattern) {
		add(civilDate(today, atoi(m[1]), atoi(m[2]), atoi(m[3])))
	}
	for _, m := range consume(&text, monthDayPattern) {
		add(resolveYear(today, monthByPrefix[m[1][:3]], atoi(m[2]), m[3]))
	}
	for _, m := range consume(&text, dayMonthPattern) {
		add(resolveYear(today, monthByPrefix[m[2][:3]], atoi(m[1]), m[3]))
	}
	for _, m := range consume(&text, slashDatePattern) {
		add(resolveYear(today, atoi(m[1]), atoi(m[2]), m[3]))
	}
	for range consume(&text, dayAfterTomorrowExpr) {
		add(today.AddDate(0, 0, 2), true)
	}
	for range consume(&text, tomorrowPattern) {
		add(today.AddDate(0, 0, 1), true)
	}
	for range consume(&text, todayPattern) {
		add(today, true)
	}
	for range consume(&text, nextWeekPattern) {
		add(today.AddDate(0, 0, daysUntil(today.Weekday(), time.Monday, false)), true)
	}
	for range consume(&text, endOfWeekPattern) {
		add(today.AddDate(0, 0, daysUntil(today.Weekday(), time.Friday, true)), true)
	}
	for _, m := range consume(&text, weekdayPattern) {
		target := time.Weekday(weekdayByName[m[2]])
		add(today.AddDate(0, 0, daysUntil(today.Weekday(), target, m[1] == "this")), true)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// daysUntil returns how many days ahead target falls. With allowToday a
// match on the current weekday is 0, otherwise it is a week away.
func daysUntil(from, target time.Weekday, allowToday bool) int {
	n := (int(target) - int(from) + 7) % 7
	if n == 0 && !allowToday {
		n = 7
	}
	return n
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// civilDate validates y-m-d, rejecting overflow such as February 30.
func civilDate(ref time.Time, y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, ref.Location())
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

// resolveYear uses an explicit year when given, otherwise the next
// occurrence on or after today.
func resolveYear(today time.Time, month, day int, year string) (time.Time, bool) {
	if year != "" {
		y := atoi(year)
		if y < 100 {
			y += 2000
		}
		return civilDate(today, y, month, day)
	}
	t, ok := civilDate(today, today.Year(), month, day)
	if ok && t.Before(today) {
		return civilDate(today, today.Year()+1, month, day)
	}
	return t, ok
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ===== times =====

func extractTimes(text string) []string {
	var times []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			times = append(times, s)
		}
	}

	// collect with offsets so the output follows the text order
	type hit struct {
		pos int
		val string
	}
	var hits []hit

	for _, loc := range clock12Pattern.FindAllStringSubmatchIndex(text, -1) {
		hour := text[loc[2]:loc[3]]
		hour = strings.TrimLeft(hour, "0")
		minute := ""
		if loc[4] >= 0 {
			minute = ":" + text[loc[4]:loc[5]]
		}
		meridiem := ""
		if loc[6] >= 0 {
			meridiem = text[loc[6]:loc[7]]
		} else {
			meridiem = text[loc[8]:loc[9]]
		}
		hits = append(hits, hit{loc[0], hour + minute + meridiem + "m"})
	}
	masked := clock12Pattern.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Repeat(" ", len(s))
	})

	for _, loc := range clock24Pattern.FindAllStringSubmatchIndex(masked, -1) {
		hour := atoi(masked[loc[2]:loc[3]])
		hits = append(hits, hit{loc[0], fmt.Sprintf("%02d:%s", hour, masked[loc[4]:loc[5]])})
	}
	for _, loc := range namedTimeExpr.FindAllStringSubmatchIndex(masked, -1) {
		name := masked[loc[2]:loc[3]]
		if name == "midday" {
			name = "noon"
		}
		hits = append(hits, hit{loc[0], name})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, h := range hits {
		add(h.val)
	}
	return times
}

// ===== duration =====

func extractDuration(text string) int {
	minutes := func() int {
		if halfHourPattern.MatchString(text) {
			return 30
		}
		if quarterHourPattern.MatchString(text) {
			return 15
		}
		for _, loc := range minutesPattern.FindAllStringSubmatchIndex(text, -1) {
			if !negatedDuration(text, loc[0]) {
				return atoi(text[loc[2]:loc[3]])
			}
		}
		for _, loc := range hoursPattern.FindAllStringSubmatchIndex(text, -1) {
			if negatedDuration(text, loc[0]) {
				continue
			}
			h, err := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
			if err == nil {
				return int(h * 60)
			}
		}
		if oneHourPattern.MatchString(text) {
			return 60
		}
		return domain.DefaultMeetingDuration
	}()

	if minutes < minDurationMinutes {
		return minDurationMinutes
	}
	if minutes > maxDurationMinutes {
		return maxDurationMinutes
	}
	return minutes
}

// negatedDuration reports whether the words just before pos turn a length
// into a deadline, as in "within 24 hours".
func negatedDuration(text string, pos int) bool {
	start := pos - 14
	if start < 0 {
		start = 0
	}
	before := text[start:pos]
	for _, w := range durationNegators {
		if strings.Contains(before, w) {
			return true
		}
	}
	return false
}
