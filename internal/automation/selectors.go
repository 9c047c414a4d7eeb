package automation

import "fmt"

// Selectors are the booking site's DOM conventions. The site is a known
// target, not arbitrary web; selectors live in one place so a markup
// change is a one-file fix.
type Selectors struct {
	ActivitySelect string
	// SlotCell locates one bookable cell; parameterized by date and time.
	SlotCell string

	PartySizeSelect string
	NameInput       string
	PhoneInput      string
	EmailInput      string
	SubmitButton    string

	// CodeInput appearing on the post-submit page signals a code challenge.
	CodeInput     string
	CodeConfirm   string
	ConfirmMarker string
}

// DefaultSelectors match the site's current reservation form markup.
func DefaultSelectors() Selectors {
	return Selectors{
		ActivitySelect:  `select#activity`,
		SlotCell:        `button[data-date="%s"][data-time="%s"]`,
		PartySizeSelect: `select#party-size`,
		NameInput:       `input#contact-name`,
		PhoneInput:      `input#contact-phone`,
		EmailInput:      `input#contact-email`,
		SubmitButton:    `button[type="submit"]`,
		CodeInput:       `input#verification-code`,
		CodeConfirm:     `button#verify-code`,
		ConfirmMarker:   `.reservation-complete`,
	}
}

// SlotSelector renders the slot cell selector for a concrete date and
// clock time ("2006-01-02", "HH:MM").
func (s Selectors) SlotSelector(date, clock string) string {
	return fmt.Sprintf(s.SlotCell, date, clock)
}
