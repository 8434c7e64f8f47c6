package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Channel is a delivery channel for a personalized communication
type Channel string

const (
	Email  Channel = "email"
	SMS    Channel = "sms"
	Letter Channel = "letter"
	Voice  Channel = "voice"
)

// AllChannels lists channels in presentation order
var AllChannels = []Channel{Email, SMS, Letter, Voice}

// ParseChannel maps a channel name to a Channel
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case Email:
		return Email, nil
	case SMS:
		return SMS, nil
	case Letter:
		return Letter, nil
	case Voice:
		return Voice, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// ChannelSpec is the per-channel behaviour used by validation
type ChannelSpec interface {
	// Validate returns structural issues with a channel body
	Validate(text string) []string
	// CoverageRequirements selects the points this channel must carry
	CoverageRequirements(points []KeyPoint) []KeyPoint
}

// Spec resolves the variant for a channel
func (c Channel) Spec() ChannelSpec {
	switch c {
	case Email:
		return emailSpec{}
	case SMS:
		return smsSpec{}
	case Letter:
		return letterSpec{}
	case Voice:
		return voiceSpec{}
	}
	return emailSpec{}
}

// MaxSMSLength is three concatenated segments
const MaxSMSLength = 480

var greetingPattern = regexp.MustCompile(`(?im)^\s*(dear|hi|hello|good (morning|afternoon|evening))\b`)

type emailSpec struct{}

func (emailSpec) Validate(text string) []string {
	var issues []string
	if strings.TrimSpace(text) == "" {
		return []string{"email body is empty"}
	}
	if !greetingPattern.MatchString(text) {
		issues = append(issues, "email has no greeting line")
	}
	return issues
}

func (emailSpec) CoverageRequirements(points []KeyPoint) []KeyPoint {
	return filterByImportance(points, Critical, Important)
}

type smsSpec struct{}

func (smsSpec) Validate(text string) []string {
	var issues []string
	if strings.TrimSpace(text) == "" {
		return []string{"sms body is empty"}
	}
	if n := len([]rune(text)); n > MaxSMSLength {
		issues = append(issues, fmt.Sprintf("sms is %d characters, limit is %d", n, MaxSMSLength))
	}
	return issues
}

func (smsSpec) CoverageRequirements(points []KeyPoint) []KeyPoint {
	return filterByImportance(points, Critical)
}

type letterSpec struct{}

func (letterSpec) Validate(text string) []string {
	var issues []string
	if strings.TrimSpace(text) == "" {
		return []string{"letter body is empty"}
	}
	if !greetingPattern.MatchString(text) {
		issues = append(issues, "letter has no salutation")
	}
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "sincerely") && !strings.Contains(lower, "regards") {
		issues = append(issues, "letter has no sign-off")
	}
	return issues
}

func (letterSpec) CoverageRequirements(points []KeyPoint) []KeyPoint {
	return filterByImportance(points, Critical, Important)
}

type voiceSpec struct{}

func (voiceSpec) Validate(text string) []string {
	var issues []string
	if strings.TrimSpace(text) == "" {
		return []string{"voice script is empty"}
	}
	if strings.Contains(text, "http") || strings.Contains(text, "www.") {
		issues = append(issues, "voice script contains a raw URL")
	}
	return issues
}

func (voiceSpec) CoverageRequirements(points []KeyPoint) []KeyPoint {
	return filterByImportance(points, Critical, Important)
}

func filterByImportance(points []KeyPoint, tiers ...Importance) []KeyPoint {
	var out []KeyPoint
	for _, p := range points {
		for _, t := range tiers {
			if p.Importance == t {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
