// --- File: pkg/fanout/types.go ---
// Package fanout contains the public domain model and collaborator contracts for
// multi-platform push fan-out.
package fanout

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the push platform a device token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Platforms lists every supported platform in reporting order.
var Platforms = []Platform{PlatformIOS, PlatformAndroid}

func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

func (p Platform) String() string { return string(p) }

// Target is the audit label describing who a send was aimed at.
// It never partitions tokens; that is done explicitly through TokensByPlatform.
type Target string

const (
	TargetAll     Target = "all"
	TargetIOS     Target = "ios"
	TargetAndroid Target = "android"
)

// ParseTarget normalizes a caller supplied target. An empty value means TargetAll.
func ParseTarget(raw string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return TargetAll, nil
	case TargetAll, TargetIOS, TargetAndroid:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", ErrInvalidPayload, raw)
	}
}

// Includes reports whether the target covers the given platform.
func (t Target) Includes(p Platform) bool {
	return t == TargetAll || string(t) == string(p)
}

// Payload is the immutable notification content.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Validate rejects payloads that must never reach a transport.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidPayload)
	}
	return nil
}

// StringifyData coerces arbitrary JSON values into the string-only map that
// push providers accept.
func StringifyData(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// TokensByPlatform is one snapshot of recipient tokens, already partitioned by platform.
type TokensByPlatform map[Platform][]string

// Len returns the total number of tokens across every platform.
func (t TokensByPlatform) Len() int {
	n := 0
	for _, tokens := range t {
		n += len(tokens)
	}
	return n
}

// Outcome is the result of one delivery attempt to one token.
type Outcome struct {
	Token             string   `json:"token"`
	Platform          Platform `json:"platform"`
	Success           bool     `json:"success"`
	ProviderMessageID string   `json:"providerMessageId,omitempty"`
	ErrorCode         string   `json:"errorCode,omitempty"`
	ErrorMessage      string   `json:"errorMessage,omitempty"`
}

// Counts is a per-platform (or overall) tally.
type Counts struct {
	Tokens  int `json:"tokensCount"`
	Success int `json:"successCount"`
	Failure int `json:"failureCount"`
}

// Tally derives counts from a list of outcomes. Failure is always Tokens-Success.
func Tally(outcomes []Outcome) Counts {
	c := Counts{Tokens: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			c.Success++
		}
	}
	c.Failure = c.Tokens - c.Success
	return c
}

// Add sums two tallies.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Tokens:  c.Tokens + o.Tokens,
		Success: c.Success + o.Success,
		Failure: c.Failure + o.Failure,
	}
}

// Status is the overall classification of a completed fan-out.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// DeriveStatus classifies counts. Zero failures is a success.
func DeriveStatus(c Counts) Status {
	switch {
	case c.Failure == 0:
		return StatusSuccess
	case c.Success == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Result is the aggregate outcome of one fan-out.
type Result struct {
	IOS         Counts    `json:"ios"`
	Android     Counts    `json:"android"`
	Total       Counts    `json:"total"`
	SuccessRate float64   `json:"successRate"`
	Status      Status    `json:"status"`
	Outcomes    []Outcome `json:"outcomes"`
}

// NewResult builds a Result from outcome lists attributed to the platform whose
// dispatcher produced them. Counters hold their invariants by construction.
func NewResult(byPlatform map[Platform][]Outcome) *Result {
	r := &Result{
		IOS:     Tally(byPlatform[PlatformIOS]),
		Android: Tally(byPlatform[PlatformAndroid]),
	}
	r.Total = r.IOS.Add(r.Android)
	if r.Total.Tokens > 0 {
		r.SuccessRate = float64(r.Total.Success) / float64(r.Total.Tokens) * 100
	}
	r.Status = DeriveStatus(r.Total)

	r.Outcomes = make([]Outcome, 0, r.Total.Tokens)
	for _, p := range Platforms {
		r.Outcomes = append(r.Outcomes, byPlatform[p]...)
	}
	return r
}

// Counts returns the tally for one platform.
func (r *Result) Counts(p Platform) Counts {
	switch p {
	case PlatformIOS:
		return r.IOS
	case PlatformAndroid:
		return r.Android
	default:
		return Counts{}
	}
}

// InvalidTokens lists tokens on the platform that the provider reported as dead.
func (r *Result) InvalidTokens(p Platform) []string {
	var tokens []string
	for _, o := range r.Outcomes {
		if o.Platform != p || o.Success {
			continue
		}
		if o.ErrorCode == CodeUnregistered || o.ErrorCode == CodeInvalidArgument {
			tokens = append(tokens, o.Token)
		}
	}
	return tokens
}

// FirstError returns "code: message" for the first failed outcome, or "".
func (r *Result) FirstError() string {
	for _, o := range r.Outcomes {
		if !o.Success {
			return fmt.Sprintf("%s: %s", o.ErrorCode, o.ErrorMessage)
		}
	}
	return ""
}

// Redacted returns a copy safe for external consumers: every token is masked.
func (r *Result) Redacted() *Result {
	cp := *r
	cp.Outcomes = make([]Outcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		o.Token = MaskToken(o.Token)
		cp.Outcomes[i] = o
	}
	return &cp
}

const maskedPrefixLen = 20

// MaskToken keeps only a short prefix of a device token.
func MaskToken(token string) string {
	if len(token) <= maskedPrefixLen {
		return token[:len(token)/2] + "..."
	}
	return token[:maskedPrefixLen] + "..."
}

// Record is the persisted, immutable audit snapshot of one fan-out.
type Record struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"ownerId"`
	Title               string    `json:"title"`
	Body                string    `json:"body"`
	Target              Target    `json:"target"`
	IOSTokensCount      int       `json:"iosTokensCount"`
	IOSSuccessCount     int       `json:"iosSuccessCount"`
	IOSFailureCount     int       `json:"iosFailureCount"`
	AndroidTokensCount  int       `json:"androidTokensCount"`
	AndroidSuccessCount int       `json:"androidSuccessCount"`
	AndroidFailureCount int       `json:"androidFailureCount"`
	TotalTokensCount    int       `json:"totalTokensCount"`
	TotalSuccessCount   int       `json:"totalSuccessCount"`
	TotalFailureCount   int       `json:"totalFailureCount"`
	SuccessRate         float64   `json:"successRate"`
	Status              Status    `json:"status"`
	ErrorMessage        string    `json:"errorMessage,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// NewRecord flattens a Result into a Record. Storage backends supply id and time.
func NewRecord(id string, createdAt time.Time, result *Result, ownerID, title, body string, target Target) Record {
	rec := Record{
		ID:                  id,
		OwnerID:             ownerID,
		Title:               title,
		Body:                body,
		Target:              target,
		IOSTokensCount:      result.IOS.Tokens,
		IOSSuccessCount:     result.IOS.Success,
		IOSFailureCount:     result.IOS.Failure,
		AndroidTokensCount:  result.Android.Tokens,
		AndroidSuccessCount: result.Android.Success,
		AndroidFailureCount: result.Android.Failure,
		TotalTokensCount:    result.Total.Tokens,
		TotalSuccessCount:   result.Total.Success,
		TotalFailureCount:   result.Total.Failure,
		SuccessRate:         result.SuccessRate,
		Status:              result.Status,
		CreatedAt:           createdAt.UTC(),
	}
	if result.Status != StatusSuccess {
		rec.ErrorMessage = result.FirstError()
	}
	return rec
}

// StartOfDay returns local midnight for t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Job is a fan-out request received through the ingestion pipeline.
// When Tokens is empty the processor takes a registry snapshot for Target.
type Job struct {
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
	Target  Target            `json:"target,omitempty"`
	OwnerID string            `json:"ownerId"`
	Tokens  TokensByPlatform  `json:"tokens,omitempty"`
}

// Payload extracts the notification content of the job.
func (j Job) Payload() Payload {
	return Payload{Title: j.Title, Body: j.Body, Data: j.Data}
}
