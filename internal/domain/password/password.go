// Пакет password - политика паролей и проверка соответствия ей.
package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Максимальная длина пароля: bcrypt учитывает только первые 72 байта.
const MaxBytes = 72

// Policy - требования к паролю.
type Policy struct {
	MinLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
}

// DefaultPolicy - политика по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:           8,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		RequireSpecialChars: true,
	}
}

// Коды нарушений политики.
const (
	ViolationTooShort  = "too_short"
	ViolationTooLong   = "too_long"
	ViolationUppercase = "uppercase"
	ViolationLowercase = "lowercase"
	ViolationNumber    = "number"
	ViolationSpecial   = "special"
)

var violationText = map[string]string{
	ViolationTooShort:  "слишком короткий",
	ViolationTooLong:   "длиннее 72 байт",
	ViolationUppercase: "нет заглавной буквы",
	ViolationLowercase: "нет строчной буквы",
	ViolationNumber:    "нет цифры",
	ViolationSpecial:   "нет специального символа",
}

// PolicyError - пароль не соответствует политике.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, violationText[v])
	}
	return "пароль не соответствует политике: " + strings.Join(parts, ", ")
}

// Validate проверяет пароль. Возвращает *PolicyError со всеми нарушениями
// или nil, если пароль допустим.
func (p Policy) Validate(pw string) error {
	var violations []string

	if utf8.RuneCountInString(pw) < p.MinLength {
		violations = append(violations, ViolationTooShort)
	}
	if len(pw) > MaxBytes {
		violations = append(violations, ViolationTooLong)
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			special = true
		}
	}

	if p.RequireUppercase && !upper {
		violations = append(violations, ViolationUppercase)
	}
	if p.RequireLowercase && !lower {
		violations = append(violations, ViolationLowercase)
	}
	if p.RequireNumbers && !digit {
		violations = append(violations, ViolationNumber)
	}
	if p.RequireSpecialChars && !special {
		violations = append(violations, ViolationSpecial)
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}
