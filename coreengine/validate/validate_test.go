package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var industries = []string{"Salon & Beauty", "Retail", OtherOption}

func TestNonEmpty(t *testing.T) {
	assert.True(t, NonEmpty("Acme"))
	assert.False(t, NonEmpty(""))
	assert.False(t, NonEmpty("   \t"))
}

func TestChoice(t *testing.T) {
	tests := []struct {
		name   string
		option string
		other  string
		want   bool
	}{
		{"listed option", "Retail", "", true},
		{"listed option ignores other text", "Retail", "Bakery", true},
		{"unlisted option", "Bakery", "", false},
		{"empty option", "", "", false},
		{"other without text", OtherOption, "", false},
		{"other with blank text", OtherOption, "   ", false},
		{"other with text", OtherOption, "Bakery", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Choice(tt.option, tt.other, industries))
		})
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"5551234", true},
		{"555123", false},
		{"(555) 123-4567", true},
		{"abc-defg", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.in, 7))
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "15551234567", DigitsOnly("+1 (555) 123-4567"))
	assert.Equal(t, "", DigitsOnly("phone"))
	assert.Equal(t, "12", DigitsOnly("1٣2"))
}

func TestTimeOfDay(t *testing.T) {
	assert.True(t, TimeOfDay("09:00"))
	assert.True(t, TimeOfDay("23:59"))
	assert.False(t, TimeOfDay("24:00"))
	assert.False(t, TimeOfDay("9am"))
	assert.False(t, TimeOfDay(""))
}

func TestHoursOrdered(t *testing.T) {
	assert.True(t, HoursOrdered("09:00", "18:00"))
	assert.False(t, HoursOrdered("18:00", "09:00"))
	assert.False(t, HoursOrdered("09:00", "09:00"))
	assert.False(t, HoursOrdered("bad", "18:00"))
}

func TestReviewLink(t *testing.T) {
	assert.True(t, ReviewLink("https://g.page/r/x"))
	assert.True(t, ReviewLink("http://yelp.com/biz/acme"))
	assert.False(t, ReviewLink("g.page/r/x"))
	assert.False(t, ReviewLink("ftp://example.com"))
	assert.False(t, ReviewLink("https://"))
	assert.False(t, ReviewLink(""))
}
