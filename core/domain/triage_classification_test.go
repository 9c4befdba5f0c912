package domain

import (
	"math"
	"testing"
)

func TestClassification_Validate(t *testing.T) {
	valid := Classification{Urgency: 3, Importance: 3, Category: CategoryWork, Confidence: 0.8}

	tests := []struct {
		name      string
		mutate    func(c *Classification)
		wantField string
	}{
		{"valid", func(c *Classification) {}, ""},
		{"bounds inclusive", func(c *Classification) { c.Urgency, c.Importance, c.Confidence = 5, 1, 1 }, ""},
		{"urgency zero", func(c *Classification) { c.Urgency = 0 }, "urgency"},
		{"urgency six", func(c *Classification) { c.Urgency = 6 }, "urgency"},
		{"importance negative", func(c *Classification) { c.Importance = -1 }, "importance"},
		{"confidence above one", func(c *Classification) { c.Confidence = 1.2 }, "confidence"},
		{"confidence negative", func(c *Classification) { c.Confidence = -0.1 }, "confidence"},
		{"confidence NaN", func(c *Classification) { c.Confidence = math.NaN() }, "confidence"},
		{"unknown category", func(c *Classification) { c.Category = "promotions" }, "category"},
		{"empty category", func(c *Classification) { c.Category = "" }, "category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %v, want %v", verr.Field, tt.wantField)
			}
		})
	}
}

func TestEmail_Validate(t *testing.T) {
	tests := []struct {
		name    string
		email   Email
		wantErr error
	}{
		{"ok", Email{ID: "m1", Date: t0}, nil},
		{"missing id", Email{Date: t0}, ErrEmailMissingID},
		{"blank id", Email{ID: "  ", Date: t0}, ErrEmailMissingID},
		{"missing date", Email{ID: "m1"}, ErrEmailMissingDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.email.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
