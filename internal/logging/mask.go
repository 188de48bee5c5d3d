package logging

import "log/slog"

// MaskPhone hides most of a phone number so that logs stay useful without
// leaking contact details. "+358401234567" becomes "+3584…567".
func MaskPhone(phone string) string {
	const keepPrefix, keepSuffix = 5, 3
	if len(phone) <= keepPrefix+keepSuffix {
		return "…"
	}
	return phone[:keepPrefix] + "…" + phone[len(phone)-keepSuffix:]
}

// Phone is a convenience attribute for logging masked phone numbers.
func Phone(phone string) slog.Attr {
	return slog.String("to", MaskPhone(phone))
}
