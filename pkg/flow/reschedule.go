package flow

import (
	"errors"
	"strings"
	"time"

	"hyrepro-admin/pkg/models"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	ErrLastSlot   = errors.New("flow: at least one time slot is required")
	ErrSlotIndex  = errors.New("flow: no such time slot")
	ErrPastDate   = errors.New("flow: date is before today")
	ErrBadDate    = errors.New("flow: date must be YYYY-MM-DD")
	ErrBadTime    = errors.New("flow: time must be HH:MM")
	ErrIncomplete = errors.New("flow: every time slot needs a date and a time")
)

// RescheduleForm collects alternative slots and an optional reason.
// It always holds at least one slot.
type RescheduleForm struct {
	slots  []models.TimeSlot
	reason string
	now    func() time.Time
}

// NewRescheduleForm starts with one empty slot. now decides "today".
func NewRescheduleForm(now func() time.Time) *RescheduleForm {
	if now == nil {
		now = time.Now
	}
	return &RescheduleForm{slots: []models.TimeSlot{{}}, now: now}
}

// Slots returns a copy of the slots.
func (f *RescheduleForm) Slots() []models.TimeSlot {
	out := make([]models.TimeSlot, len(f.slots))
	copy(out, f.slots)
	return out
}

// AddSlot appends exactly one empty slot.
func (f *RescheduleForm) AddSlot() {
	f.slots = append(f.slots, models.TimeSlot{})
}

// RemoveSlot drops slot i; the last remaining slot cannot be removed.
func (f *RescheduleForm) RemoveSlot(i int) error {
	if i < 0 || i >= len(f.slots) {
		return ErrSlotIndex
	}
	if len(f.slots) < 2 {
		return ErrLastSlot
	}
	f.slots = append(f.slots[:i], f.slots[i+1:]...)
	return nil
}

// CanRemove mirrors the enabled state of the remove buttons.
func (f *RescheduleForm) CanRemove() bool { return len(f.slots) > 1 }

// MinDate is the earliest selectable date.
func (f *RescheduleForm) MinDate() string {
	return f.now().Format(dateLayout)
}

// SetDate sets slot i's date. Empty clears it; past dates are refused.
func (f *RescheduleForm) SetDate(i int, date string) error {
	if i < 0 || i >= len(f.slots) {
		return ErrSlotIndex
	}
	date = strings.TrimSpace(date)
	if date != "" {
		if _, err := time.Parse(dateLayout, date); err != nil {
			return ErrBadDate
		}
		// ISO 日期按字符串比较即可
		if date < f.MinDate() {
			return ErrPastDate
		}
	}
	f.slots[i].Date = date
	return nil
}

// SetTime sets slot i's time as HH:MM. Empty clears it.
func (f *RescheduleForm) SetTime(i int, t string) error {
	if i < 0 || i >= len(f.slots) {
		return ErrSlotIndex
	}
	t = strings.TrimSpace(t)
	if t != "" {
		parsed, err := time.Parse(timeLayout, t)
		if err != nil {
			return ErrBadTime
		}
		t = parsed.Format(timeLayout)
	}
	f.slots[i].Time = t
	return nil
}

// SetReason stores the optional reason as typed.
func (f *RescheduleForm) SetReason(reason string) { f.reason = reason }

// Reason returns the reason as typed.
func (f *RescheduleForm) Reason() string { return f.reason }

// CanSubmit is false while any slot lacks a date or a time.
func (f *RescheduleForm) CanSubmit() bool {
	if len(f.slots) == 0 {
		return false
	}
	for _, s := range f.slots {
		if !s.Complete() {
			return false
		}
	}
	return true
}

func (f *RescheduleForm) request(token string) models.ConfirmationRequest {
	return models.ConfirmationRequest{
		Token:          token,
		Action:         models.ConfirmationActionReschedule,
		SuggestedTimes: f.Slots(),
		Reason:         strings.TrimSpace(f.reason),
	}
}
