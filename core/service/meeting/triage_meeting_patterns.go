package meeting

import (
	"regexp"

	"triage_server/core/domain"
)

// =============================================================================
// Scheduling intent
// =============================================================================

var intentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmeet(s|ing|ings|up)?\b`),
	regexp.MustCompile(`\b(call|phone call|video call)\b`),
	regexp.MustCompile(`\b(sync|sync up|catch up|catch-up)\b`),
	regexp.MustCompile(`\b(schedule|reschedule|scheduling)\b`),
	regexp.MustCompile(`\b(available|availability)\b`),
	regexp.MustCompile(`\b(are you|you're|you are|i'm|i am) free\b`),
	regexp.MustCompile(`\bfree (on|at|for|this|next|tomorrow|today)\b`),
	regexp.MustCompile(`\b(calendar|meeting) invit(e|ation)\b`),
	regexp.MustCompile(`\brsvp\b`),
	regexp.MustCompile(`\binterview\b`),
	regexp.MustCompile(`\bdemo\b`),
	regexp.MustCompile(`\bappointment\b`),
	regexp.MustCompile(`\b(zoom|webex|google meet|microsoft teams|teams meeting)\b`),
}

// =============================================================================
// Meeting type families, checked in order
// =============================================================================

type typeFamily struct {
	kind    domain.MeetingType
	pattern *regexp.Regexp
}

var typeFamilies = []typeFamily{
	{domain.MeetingTypeInterview, regexp.MustCompile(`\b(interview(s|ing|ed)?|candidate|hiring|recruit(er|ing|ment)?)\b`)},
	{domain.MeetingTypeDemo, regexp.MustCompile(`\b(demo(s|nstration)?|walkthrough|walk-through|product tour)\b`)},
	{domain.MeetingTypePresentation, regexp.MustCompile(`\b(presentation|presenting|pitch|webinar|keynote|slides)\b`)},
	{domain.MeetingTypeCall, regexp.MustCompile(`\b(call|phone|dial-in|dial in|ring you)\b`)},
	{domain.MeetingTypeOther, regexp.MustCompile(`\b(lunch|coffee|dinner|breakfast|drinks|workshop|event|offsite)\b`)},
}

// =============================================================================
// Follow-up markers
// =============================================================================

var (
	replySubjectPattern = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:`)
	followUpPattern     = regexp.MustCompile(`\b(follow(ing)?[- ]?up|circling back|checking in|as discussed|per our (conversation|call|discussion|chat)|wrote:)`)
	quotedLinePattern   = regexp.MustCompile(`(?m)^\s*>`)
)

// =============================================================================
// Title
// =============================================================================

var (
	topicPattern   = regexp.MustCompile(`(?i)\b(?:to discuss|discuss|regarding|to talk about|to go over|to review)\s+((?:the |our |your |a |an )?[a-z0-9][^.?!,;:\n]{1,60})`)
	topicTailCut   = regexp.MustCompile(`(?i)\s+(on|at|by|next|this|tomorrow|today|sometime|later|before|after|with|when)\b`)
	subjectPrefix  = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:\s*`)
	maxTitleLength = 80
)

// =============================================================================
// Dates
// =============================================================================

const monthNames = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	isoDatePattern       = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDatePattern     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)
	monthDayPattern      = regexp.MustCompile(`\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b(?:,?\s+(\d{4})\b)?`)
	dayMonthPattern      = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `\b(?:,?\s+(\d{4})\b)?`)
	weekdayPattern       = regexp.MustCompile(`\b(?:(this|next|coming)\s+)?(monday|tuesday|tues|wednesday|thursday|thurs|friday|saturday|sunday)\b`)
	dayAfterTomorrowExpr = regexp.MustCompile(`\bday after tomorrow\b`)
	tomorrowPattern      = regexp.MustCompile(`\btomorrow\b`)
	todayPattern         = regexp.MustCompile(`\b(today|tonight|this afternoon|this morning|this evening)\b`)
	nextWeekPattern      = regexp.MustCompile(`\bnext week\b`)
	endOfWeekPattern     = regexp.MustCompile(`\bend of (the )?week\b`)
)

var monthByPrefix = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayByName = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "tues": 2, "wednesday": 3,
	"thursday": 4, "thurs": 4, "friday": 5, "saturday": 6,
}

// =============================================================================
// Times
// =============================================================================

var (
	clock12Pattern = regexp.MustCompile(`\b(1[0-2]|0?[1-9])(?::([0-5]\d))?\s*(?:(a|p)\.m\.|(a|p)m\b)`)
	clock24Pattern = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	namedTimeExpr  = regexp.MustCompile(`\b(noon|midday|midnight)\b`)
)

// =============================================================================
// Durations
// =============================================================================

var (
	halfHourPattern    = regexp.MustCompile(`\b(half an hour|half-hour|half hour)\b`)
	quarterHourPattern = regexp.MustCompile(`\bquarter of an hour\b`)
	minutesPattern     = regexp.MustCompile(`\b(\d{1,3})\s*-?\s*(minutes?|mins?)\b`)
	hoursPattern       = regexp.MustCompile(`\b(\d{1,2}(?:\.\d+)?)\s*-?\s*(hours?|hrs?)\b`)
	oneHourPattern     = regexp.MustCompile(`\b(an|one) hour\b|\bhour-long\b`)
	durationNegators   = []string{"within", "in the next", "after", "before", "every"}
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 480
)

// =============================================================================
// Meeting priority
// =============================================================================

var urgencyPattern = regexp.MustCompile(`\b(urgent|urgently|asap|as soon as possible|immediately|time-sensitive|time sensitive)\b`)

const (
	meetingPointsImportantFlag  = 3
	meetingPointsImportantLabel = 1
	meetingPointsStarredLabel   = 1
	meetingPointsUrgentWords    = 2
	meetingPointsRecent         = 1
	meetingPointsDateWithin3    = 2
	meetingPointsDateWithin7    = 1

	meetingHighThreshold   = 6
	meetingMediumThreshold = 3
)

var meetingTypePoints = map[domain.MeetingType]int{
	domain.MeetingTypeInterview:    3,
	domain.MeetingTypeDemo:         2,
	domain.MeetingTypePresentation: 2,
	domain.MeetingTypeCall:         1,
	domain.MeetingTypeMeeting:      1,
}
