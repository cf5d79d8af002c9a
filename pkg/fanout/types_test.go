// --- File: pkg/fanout/types_test.go ---
package fanout_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

func outcomes(p fanout.Platform, success, failure int) []fanout.Outcome {
	var out []fanout.Outcome
	for i := 0; i < success; i++ {
		out = append(out, fanout.Outcome{Token: fmt.Sprintf("%s-ok-%d", p, i), Platform: p, Success: true})
	}
	for i := 0; i < failure; i++ {
		out = append(out, fanout.Outcome{
			Token: fmt.Sprintf("%s-bad-%d", p, i), Platform: p,
			ErrorCode: fanout.CodeUnregistered, ErrorMessage: "not registered",
		})
	}
	return out
}

func assertCountInvariants(t *testing.T, r *fanout.Result) {
	t.Helper()
	for _, c := range []fanout.Counts{r.IOS, r.Android, r.Total} {
		assert.Equal(t, c.Tokens, c.Success+c.Failure)
	}
	assert.Equal(t, r.IOS.Tokens+r.Android.Tokens, r.Total.Tokens)
	assert.Equal(t, r.IOS.Success+r.Android.Success, r.Total.Success)
	assert.Equal(t, r.IOS.Failure+r.Android.Failure, r.Total.Failure)
	assert.Len(t, r.Outcomes, r.Total.Tokens)
}

func TestNewResult_Invariants(t *testing.T) {
	cases := []struct {
		name                                   string
		iosOK, iosBad, androidOK, androidBad int
	}{
		{"ios only", 3, 1, 0, 0},
		{"android only", 0, 0, 5, 2},
		{"both platforms", 7, 3, 11, 0},
		{"all failed", 0, 4, 0, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
				fanout.PlatformIOS:     outcomes(fanout.PlatformIOS, tc.iosOK, tc.iosBad),
				fanout.PlatformAndroid: outcomes(fanout.PlatformAndroid, tc.androidOK, tc.androidBad),
			})
			assertCountInvariants(t, r)
		})
	}
}

func TestNewResult_AttributesByProducingPlatform(t *testing.T) {
	// The same literal token appears on both platforms with different results.
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS:     {{Token: "shared", Platform: fanout.PlatformIOS, Success: true}},
		fanout.PlatformAndroid: {{Token: "shared", Platform: fanout.PlatformAndroid, ErrorCode: fanout.CodeUnregistered}},
	})

	assert.Equal(t, fanout.Counts{Tokens: 1, Success: 1, Failure: 0}, r.IOS)
	assert.Equal(t, fanout.Counts{Tokens: 1, Success: 0, Failure: 1}, r.Android)
	assert.Equal(t, fanout.StatusPartial, r.Status)
	assertCountInvariants(t, r)
}

func TestResult_Counts(t *testing.T) {
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS:     outcomes(fanout.PlatformIOS, 2, 1),
		fanout.PlatformAndroid: outcomes(fanout.PlatformAndroid, 0, 3),
	})

	assert.Equal(t, r.IOS, r.Counts(fanout.PlatformIOS))
	assert.Equal(t, fanout.Counts{Tokens: 3, Success: 0, Failure: 3}, r.Counts(fanout.PlatformAndroid))
	assert.Equal(t, fanout.Counts{}, r.Counts(fanout.Platform("web")))
}

func TestDeriveStatus(t *testing.T) {
	t.Run("all success", func(t *testing.T) {
		assert.Equal(t, fanout.StatusSuccess, fanout.DeriveStatus(fanout.Counts{Tokens: 4, Success: 4}))
	})
	t.Run("mixed", func(t *testing.T) {
		assert.Equal(t, fanout.StatusPartial, fanout.DeriveStatus(fanout.Counts{Tokens: 4, Success: 2, Failure: 2}))
	})
	t.Run("exactly one success", func(t *testing.T) {
		assert.Equal(t, fanout.StatusPartial, fanout.DeriveStatus(fanout.Counts{Tokens: 10, Success: 1, Failure: 9}))
	})
	t.Run("all failure", func(t *testing.T) {
		assert.Equal(t, fanout.StatusFailed, fanout.DeriveStatus(fanout.Counts{Tokens: 3, Failure: 3}))
	})
}

func TestResult_SuccessRate(t *testing.T) {
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS:     outcomes(fanout.PlatformIOS, 1, 0),
		fanout.PlatformAndroid: outcomes(fanout.PlatformAndroid, 1, 1),
	})
	assert.InDelta(t, 66.67, r.SuccessRate, 0.01)

	empty := fanout.NewResult(nil)
	assert.Zero(t, empty.SuccessRate)
}

func TestResult_InvalidTokensAndFirstError(t *testing.T) {
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformAndroid: {
			{Token: "a", Platform: fanout.PlatformAndroid, Success: true},
			{Token: "b", Platform: fanout.PlatformAndroid, ErrorCode: fanout.CodeUnregistered, ErrorMessage: "gone"},
			{Token: "c", Platform: fanout.PlatformAndroid, ErrorCode: fanout.CodeUnavailable, ErrorMessage: "retry later"},
			{Token: "d", Platform: fanout.PlatformAndroid, ErrorCode: fanout.CodeInvalidArgument, ErrorMessage: "malformed"},
		},
	})

	assert.Equal(t, []string{"b", "d"}, r.InvalidTokens(fanout.PlatformAndroid))
	assert.Empty(t, r.InvalidTokens(fanout.PlatformIOS))
	assert.Equal(t, "UNREGISTERED: gone", r.FirstError())
}

func TestResult_Redacted(t *testing.T) {
	long := strings.Repeat("x", 64)
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS: {{Token: long, Platform: fanout.PlatformIOS, Success: true}},
	})

	red := r.Redacted()

	assert.Equal(t, strings.Repeat("x", 20)+"...", red.Outcomes[0].Token)
	assert.Equal(t, long, r.Outcomes[0].Token, "original must not be mutated")
	assert.Equal(t, r.Total, red.Total)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "abcdefghijklmnopqrst...", fanout.MaskToken("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "ab...", fanout.MaskToken("abcd"))
	assert.Equal(t, "...", fanout.MaskToken(""))
}

func TestPayload_Validate(t *testing.T) {
	require.NoError(t, fanout.Payload{Title: "t", Body: "b"}.Validate())

	err := fanout.Payload{Title: " ", Body: "b"}.Validate()
	assert.True(t, errors.Is(err, fanout.ErrInvalidPayload))

	err = fanout.Payload{Title: "t"}.Validate()
	assert.True(t, errors.Is(err, fanout.ErrInvalidPayload))
}

func TestParseTarget(t *testing.T) {
	got, err := fanout.ParseTarget("")
	require.NoError(t, err)
	assert.Equal(t, fanout.TargetAll, got)

	got, err = fanout.ParseTarget(" IOS ")
	require.NoError(t, err)
	assert.Equal(t, fanout.TargetIOS, got)

	_, err = fanout.ParseTarget("web")
	assert.ErrorIs(t, err, fanout.ErrInvalidPayload)

	assert.True(t, fanout.TargetAll.Includes(fanout.PlatformAndroid))
	assert.False(t, fanout.TargetIOS.Includes(fanout.PlatformAndroid))
}

func TestStringifyData(t *testing.T) {
	got := fanout.StringifyData(map[string]any{"n": 3, "b": true, "s": "x", "nil": nil})
	assert.Equal(t, map[string]string{"n": "3", "b": "true", "s": "x", "nil": ""}, got)
	assert.Nil(t, fanout.StringifyData(nil))
}

func TestNewRecord(t *testing.T) {
	r := fanout.NewResult(map[fanout.Platform][]fanout.Outcome{
		fanout.PlatformIOS:     outcomes(fanout.PlatformIOS, 1, 0),
		fanout.PlatformAndroid: outcomes(fanout.PlatformAndroid, 1, 1),
	})
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*3600))

	rec := fanout.NewRecord("id-1", at, r, "owner-1", "title", "body", fanout.TargetAll)

	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, 1, rec.IOSTokensCount)
	assert.Equal(t, 2, rec.AndroidTokensCount)
	assert.Equal(t, 1, rec.AndroidFailureCount)
	assert.Equal(t, 3, rec.TotalTokensCount)
	assert.Equal(t, fanout.StatusPartial, rec.Status)
	assert.Equal(t, "UNREGISTERED: not registered", rec.ErrorMessage)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	at := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC) // 05:30 next day in KST

	got := fanout.StartOfDay(at, loc)

	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), got)
}

func TestErrorDetails(t *testing.T) {
	code, msg := fanout.ErrorDetails(fmt.Errorf("send: %w", fanout.NewTransportError(fanout.CodeQuotaExceeded, errors.New("slow down"))))
	assert.Equal(t, fanout.CodeQuotaExceeded, code)
	assert.Equal(t, "slow down", msg)

	code, msg = fanout.ErrorDetails(errors.New("boom"))
	assert.Equal(t, fanout.CodeUnknown, code)
	assert.Equal(t, "boom", msg)
}
