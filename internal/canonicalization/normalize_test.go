package canonicalization

import "testing"

func TestToday_IsMidnightInMoscow(t *testing.T) {
	today := Today()

	if today.Hour() != 0 || today.Minute() != 0 || today.Second() != 0 {
		t.Fatalf("expected midnight, got %v", today)
	}

	if today.Location().String() != moscow.String() {
		t.Fatalf("expected Moscow location, got %v", today.Location())
	}
}

func TestYesterday_IsOneDayBeforeToday(t *testing.T) {
	today := Today()
	yesterday := Yesterday()

	if !yesterday.Equal(today.AddDate(0, 0, -1)) {
		t.Fatalf("expected yesterday to be exactly one day before today, got today=%v yesterday=%v", today, yesterday)
	}
}
