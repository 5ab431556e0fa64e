package watch

import (
	"errors"
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"reminder", " Video-Watch ", "scoreboard-refresh"} {
		if _, err := ParseKind(s); err != nil {
			t.Fatalf("ParseKind(%q): %v", s, err)
		}
	}
	if _, err := ParseKind("weather"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestValidateTarget(t *testing.T) {
	t.Parallel()
	ok := Target{
		Key:         Key{TenantID: "g1", Kind: KindSports, EntityKey: "nba"},
		Interval:    time.Minute,
		Destination: Destination{UserID: 5},
	}
	tests := []struct {
		name  string
		edit  func(*Target)
		field string
	}{
		{"valid", func(*Target) {}, ""},
		{"no tenant", func(t *Target) { t.TenantID = "" }, "tenant_id"},
		{"bad kind", func(t *Target) { t.Kind = "x" }, "kind"},
		{"no entity", func(t *Target) { t.EntityKey = "" }, "entity_key"},
		{"zero interval", func(t *Target) { t.Interval = 0 }, "interval"},
		{"negative interval", func(t *Target) { t.Interval = -time.Second }, "interval"},
		{"no destination", func(t *Target) { t.Destination = Destination{} }, "destination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := ok
			tt.edit(&tg)
			err := ValidateTarget(tg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("want ConfigError on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSameConfig(t *testing.T) {
	t.Parallel()
	a := Target{Key: Key{"g", KindVideo, "c"}, Interval: time.Minute, Settings: map[string]string{"x": "1"}}
	b := a
	b.Settings = map[string]string{"x": "1"}
	if !a.sameConfig(b) {
		t.Fatal("equal settings should compare equal")
	}
	b.Settings = map[string]string{"x": "2"}
	if a.sameConfig(b) {
		t.Fatal("changed setting not detected")
	}
}

func TestAsDeliverErrorKeepsReason(t *testing.T) {
	t.Parallel()
	k := Key{"g", KindVideo, "c"}
	orig := &DeliverError{Key: k, Reason: ReasonNotFound, Err: errors.New("chat not found")}
	var de *DeliverError
	if !errors.As(AsDeliverError(k, ReasonTransport, orig), &de) || de.Reason != ReasonNotFound {
		t.Fatalf("reason lost: %+v", de)
	}
	if !errors.As(AsDeliverError(k, ReasonTransport, errors.New("eof")), &de) || de.Reason != ReasonTransport {
		t.Fatalf("plain error not wrapped: %+v", de)
	}
}
