package league

import (
	"errors"
	"testing"
	"time"

	"chesster/internal/deadline"
)

func testLeague() League {
	return League{
		Name:           "45+45",
		Rule:           deadline.Rule{ISOWeekday: 1, Hour: 11, Minute: 0, WarningHours: 1},
		Format:         "MM/DD @ HH:mm",
		WarningMessage: "cutting it close to deadline",
		LateMessage:    "that time is past the deadline",
	}
}

// Sunday 2016-04-17 20:00 UTC; cutoff Monday 11:00 UTC.
var now = time.Date(2016, 4, 17, 20, 0, 0, 0, time.UTC)

func TestClassifyTiersAndMessages(t *testing.T) {
	t.Parallel()
	lg := testLeague()
	tests := []struct {
		name        string
		raw         string
		wantTier    deadline.Tier
		wantMessage string
	}{
		{name: "ok", raw: "04/17 @ 23:00", wantTier: deadline.OK, wantMessage: ""},
		{name: "warning", raw: "04/18 @ 10:30", wantTier: deadline.Warning, wantMessage: lg.WarningMessage},
		{name: "late", raw: "04/18 @ 11:15", wantTier: deadline.Late, wantMessage: lg.LateMessage},
		{name: "invalid", raw: "next tuesday-ish", wantTier: deadline.Invalid, wantMessage: DefaultInvalidMessage},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			v := lg.Classify(now, tt.raw)
			if v.Tier != tt.wantTier {
				t.Fatalf("Tier = %v, want %v", v.Tier, tt.wantTier)
			}
			if v.Message != tt.wantMessage {
				t.Fatalf("Message = %q, want %q", v.Message, tt.wantMessage)
			}
			wantDeadline := time.Date(2016, 4, 18, 11, 0, 0, 0, time.UTC)
			if !v.Deadline.Equal(wantDeadline) {
				t.Fatalf("Deadline = %v, want %v", v.Deadline, wantDeadline)
			}
		})
	}
}

func TestClassifyConfiguredInvalidMessage(t *testing.T) {
	t.Parallel()
	lg := testLeague()
	lg.InvalidMessage = "please post like 04/20 @ 18:00"
	v := lg.Classify(now, "garbage")
	if v.Tier != deadline.Invalid || v.Message != lg.InvalidMessage {
		t.Fatalf("Classify = %+v", v)
	}
}

func TestSetClassify(t *testing.T) {
	t.Parallel()
	set := Set{"45+45": testLeague()}

	v, err := set.Classify("45+45", now, "04/18 @ 10:30")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if v.Tier != deadline.Warning {
		t.Fatalf("Tier = %v, want Warning", v.Tier)
	}

	_, err = set.Classify("chess960", now, "04/18 @ 10:30")
	if !errors.Is(err, ErrUnknownLeague) {
		t.Fatalf("error = %v, want ErrUnknownLeague", err)
	}
}
