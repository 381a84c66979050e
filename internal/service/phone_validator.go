package service

import (
	"fmt"
	"strings"

	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

// Canonical South African mobile format: +27 followed by nine digits.
const canonicalPhonePrefix = "+27"

// NormalizePhone cleans and validates a South African mobile number,
// returning the canonical +27XXXXXXXXX form. Accepted inputs are
// 0XXXXXXXXX (10 digits), 27XXXXXXXXX (11 digits) and +27XXXXXXXXX.
// The function is pure and idempotent on canonical input.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", apperrors.Clone(apperrors.ErrInvalidPhone, "phone number cannot be empty")
	}

	digits := cleaned
	hasPlus := strings.HasPrefix(cleaned, "+")
	if hasPlus {
		digits = cleaned[1:]
	}
	if !allDigits(digits) {
		return "", invalidPhone(raw, "contains non-digit characters")
	}

	switch {
	case !hasPlus && strings.HasPrefix(digits, "0"):
		if len(digits) != 10 {
			return "", invalidPhone(raw, "numbers starting with '0' must be 10 digits long")
		}
		return canonicalPhonePrefix + digits[1:], nil
	case hasPlus:
		if !strings.HasPrefix(digits, "27") || len(digits) != 11 {
			return "", invalidPhone(raw, "numbers starting with '+' must be in +27XXXXXXXXX form")
		}
		return "+" + digits, nil
	case strings.HasPrefix(digits, "27"):
		if len(digits) != 11 {
			return "", invalidPhone(raw, "numbers starting with '27' must be 11 digits long")
		}
		return "+" + digits, nil
	default:
		return "", invalidPhone(raw, "must start with '0', '27' or '+27'")
	}
}

// PhoneToWire strips the leading plus for transmission to the gateway.
func PhoneToWire(canonical string) string {
	return strings.TrimPrefix(canonical, "+")
}

// PhoneFromWire restores the canonical form from the gateway's
// digits-only representation.
func PhoneFromWire(wire string) string {
	if strings.HasPrefix(wire, "+") {
		return wire
	}
	return "+" + wire
}

func invalidPhone(raw, reason string) error {
	return apperrors.Clone(apperrors.ErrInvalidPhone,
		fmt.Sprintf("invalid South African phone number %q: %s", raw, reason))
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
